package publish

import (
	"os"
	"time"
)

type configGetter interface {
	GetPublish() Config
}

type Config struct {
	// WorkerKey is compared to the X-Worker-Key header; empty disables the check
	WorkerKey      string `yaml:"workerKey"`
	Addr           string `yaml:"addr"`
	PlatformDomain string `yaml:"platformDomain"`
	// WorkDir holds staging and build output directories; created on start
	WorkDir string `yaml:"workDir"`
	// PollIntervalSec > 0 enables the in-process worker loop
	PollIntervalSec int `yaml:"pollIntervalSec"`
	StaleAfterSec   int `yaml:"staleAfterSec"`
	MaxAttempts     int `yaml:"maxAttempts"`
	// KeepVersions > 0 deletes older versions after a successful promotion
	KeepVersions   int `yaml:"keepVersions"`
	LockTimeoutSec int `yaml:"lockTimeoutSec"`
}

const (
	defaultPlatformDomain = "games.local"
	defaultStaleAfter     = 15 * time.Minute
	defaultMaxAttempts    = 3
	defaultLockTimeout    = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.PlatformDomain == "" {
		c.PlatformDomain = defaultPlatformDomain
	}
	if c.StaleAfterSec <= 0 {
		c.StaleAfterSec = int(defaultStaleAfter / time.Second)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.LockTimeoutSec <= 0 {
		c.LockTimeoutSec = int(defaultLockTimeout / time.Second)
	}
	return c
}
