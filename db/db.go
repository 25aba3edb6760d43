package db

import (
	"context"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const CName = "publish.db"

var log = logger.NewNamed(CName)

func New() Database {
	return new(database)
}

type configGetter interface {
	GetMongo() Mongo
}

type Mongo struct {
	Connect  string `yaml:"connect"`
	Database string `yaml:"database"`
}

type Database interface {
	Db() *mongo.Database
	// Tx runs f inside a transaction; a replica set is required
	Tx(ctx context.Context, f func(txCtx mongo.SessionContext) error) error
	app.ComponentRunnable
}

type database struct {
	client *mongo.Client
	db     *mongo.Database
}

func (d *database) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter).GetMongo()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if d.client, err = mongo.Connect(ctx, options.Client().ApplyURI(conf.Connect)); err != nil {
		return err
	}
	d.db = d.client.Database(conf.Database)
	return nil
}

func (d *database) Name() (name string) {
	return CName
}

func (d *database) Run(ctx context.Context) (err error) {
	if err = d.client.Ping(ctx, readpref.Primary()); err != nil {
		return err
	}
	log.Info("mongo connected", zap.String("database", d.db.Name()))
	return nil
}

func (d *database) Db() *mongo.Database {
	return d.db
}

func (d *database) Tx(ctx context.Context, f func(txCtx mongo.SessionContext) error) error {
	return d.client.UseSession(ctx, func(txCtx mongo.SessionContext) (err error) {
		if err = txCtx.StartTransaction(); err != nil {
			return err
		}
		if err = f(txCtx); err != nil {
			_ = txCtx.AbortTransaction(txCtx)
			return err
		}
		return txCtx.CommitTransaction(txCtx)
	})
}

func (d *database) Close(ctx context.Context) (err error) {
	return d.client.Disconnect(ctx)
}

// EnsureIndexes creates indexes when the collection only has the default _id index.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection, indexes ...mongo.IndexModel) (err error) {
	existingIndexes, err := coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return
	}
	if len(existingIndexes) <= 1 {
		_, err = coll.Indexes().CreateMany(ctx, indexes)
	}
	return
}
