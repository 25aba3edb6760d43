package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"

	"github.com/gameforge/publish-worker/bundler"
	"github.com/gameforge/publish-worker/config"
	"github.com/gameforge/publish-worker/db"
	"github.com/gameforge/publish-worker/gateway"
	"github.com/gameforge/publish-worker/icon"
	"github.com/gameforge/publish-worker/lock"
	"github.com/gameforge/publish-worker/publish"
	"github.com/gameforge/publish-worker/publish/jobqueue"
	"github.com/gameforge/publish-worker/publish/publishrepo"
	"github.com/gameforge/publish-worker/publishclient"
	"github.com/gameforge/publish-worker/source"
	"github.com/gameforge/publish-worker/store"
)

var log = logger.NewNamed("main")

var (
	flagConfigFile = flag.String("c", "etc/publish-worker.yml", "path to config file")
	flagVersion    = flag.Bool("v", false, "show version and exit")
	flagHelp       = flag.Bool("h", false, "show help and exit")
	flagTrigger    = flag.Bool("trigger", false, "ask a running worker to process a job and exit")
	flagJobId      = flag.String("job", "", "job id for -trigger; empty takes the oldest queued job")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Println(app.AppName)
		fmt.Println(app.Version())
		fmt.Println(app.VersionDescription())
		return
	}
	if *flagHelp {
		flag.PrintDefaults()
		return
	}

	conf, err := config.NewFromFile(*flagConfigFile)
	if err != nil {
		log.Fatal("can't open config file", zap.Error(err))
	}
	conf.Log.ApplyGlobal()

	if *flagTrigger {
		os.Exit(trigger(conf, *flagJobId))
	}

	a := new(app.App)
	Bootstrap(a, conf)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err = a.Start(ctx); err != nil {
		log.Fatal("can't start app", zap.Error(err))
	}
	log.Info("app started", zap.String("version", app.Version()))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-exit
	log.Info("received exit signal, stop app...", zap.String("signal", fmt.Sprint(sig)))

	ctx, cancel = context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err = a.Close(ctx); err != nil {
		log.Fatal("close error", zap.Error(err))
	} else {
		log.Info("goodbye!")
	}
	time.Sleep(time.Second / 3)
}

func trigger(conf *config.Config, jobId string) int {
	client := publishclient.NewWithConfig(conf.GetPublishClient())
	resp, err := client.Trigger(context.Background(), jobId)
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		log.Error("trigger failed", zap.Error(err))
		return 1
	}
	return 0
}

func Bootstrap(a *app.App, conf *config.Config) {
	a.Register(conf).
		Register(db.New()).
		Register(store.New()).
		Register(lock.New()).
		Register(jobqueue.New()).
		Register(publishrepo.New()).
		Register(source.New()).
		Register(bundler.New()).
		Register(icon.New()).
		Register(publish.New()).
		Register(gateway.New())
}
