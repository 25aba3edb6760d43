package store

type configSource interface {
	GetS3Store() Config
}

type Credentials struct {
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type Buckets struct {
	Sources   string `yaml:"sources"`
	Published string `yaml:"published"`
	Icons     string `yaml:"icons"`
}

type Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// PublicUrl is the base of public object urls: {PublicUrl}/{bucket}/{key}
	PublicUrl      string      `yaml:"publicUrl"`
	ForcePathStyle bool        `yaml:"forcePathStyle"`
	ResignRequests bool        `yaml:"resignRequests"`
	Buckets        Buckets     `yaml:"buckets"`
	Credentials    Credentials `yaml:"credentials"`
}

func (c Config) withDefaults() Config {
	if c.Buckets.Sources == "" {
		c.Buckets.Sources = "project-files"
	}
	if c.Buckets.Published == "" {
		c.Buckets.Published = "published-games"
	}
	if c.Buckets.Icons == "" {
		c.Buckets.Icons = "project-assets"
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	return c
}
