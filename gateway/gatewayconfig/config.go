package gatewayconfig

type ConfigGetter interface {
	GetGateway() Config
}

type Config struct {
	// Addr is the listen address; empty disables the gateway
	Addr string `yaml:"addr"`
	// Domain is the platform domain, games are served from {slug}.{Domain}
	Domain      string `yaml:"domain"`
	CacheTtlSec int    `yaml:"cacheTtlSec"`
}
