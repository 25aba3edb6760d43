package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"gopkg.in/yaml.v3"

	"github.com/gameforge/publish-worker/bundler"
	"github.com/gameforge/publish-worker/db"
	"github.com/gameforge/publish-worker/gateway/gatewayconfig"
	"github.com/gameforge/publish-worker/icon"
	"github.com/gameforge/publish-worker/lock"
	"github.com/gameforge/publish-worker/publish"
	"github.com/gameforge/publish-worker/publishclient"
	"github.com/gameforge/publish-worker/store"
)

const CName = "config"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func NewFromFile(path string) (c *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml after replacing ${VAR} references with environment values.
func Parse(data []byte) (c *Config, err error) {
	c = &Config{}
	data = envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(ref)[1])))
	})
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

type Config struct {
	Log           logger.Config        `yaml:"log"`
	Mongo         db.Mongo             `yaml:"mongo"`
	Redis         lock.Config          `yaml:"redis"`
	S3Store       store.Config         `yaml:"s3Store"`
	Publish       publish.Config       `yaml:"publish"`
	Bundler       bundler.Config       `yaml:"bundler"`
	Icon          icon.Config          `yaml:"icon"`
	Gateway       gatewayconfig.Config `yaml:"gateway"`
	PublishClient publishclient.Config `yaml:"publishClient"`
}

func (c *Config) Init(a *app.App) (err error) {
	return nil
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetMongo() db.Mongo {
	return c.Mongo
}

func (c *Config) GetRedis() lock.Config {
	return c.Redis
}

func (c *Config) GetPublish() publish.Config {
	return c.Publish
}

func (c *Config) GetS3Store() store.Config {
	return c.S3Store
}

func (c *Config) GetBundler() bundler.Config {
	return c.Bundler
}

func (c *Config) GetIcon() icon.Config {
	return c.Icon
}

func (c *Config) GetGateway() gatewayconfig.Config {
	return c.Gateway
}

// GetPublishClient falls back to the local worker endpoint and key.
func (c *Config) GetPublishClient() publishclient.Config {
	conf := c.PublishClient
	if conf.Url == "" && c.Publish.Addr != "" {
		addr := c.Publish.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		conf.Url = "http://" + addr + "/"
	}
	if conf.WorkerKey == "" {
		conf.WorkerKey = c.Publish.WorkerKey
	}
	return conf
}
