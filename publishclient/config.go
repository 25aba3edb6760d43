package publishclient

type configGetter interface {
	GetPublishClient() Config
}

type Config struct {
	// Url of the worker trigger endpoint
	Url        string `yaml:"url"`
	WorkerKey  string `yaml:"workerKey"`
	TimeoutSec int    `yaml:"timeoutSec"`
}
