// Package config loads the human-readable YAML configuration surface: cache
// tunables, scheduler tunables, and the platform a build targets. Decoding
// is strict — unknown fields are rejected so that a typo in a configuration
// file fails loudly instead of silently using a default.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/container-build/buildcore/pkg/cache"
	"github.com/container-build/buildcore/pkg/scheduler"
)

// byteSize is a human-friendly size value (e.g. "512MiB", "2GB") decoded
// into bytes. It also accepts a bare numeric byte count.
type byteSize int64

// UnmarshalYAML implements yaml.Unmarshaler, accepting either a bare integer
// byte count or a human-friendly suffixed string (e.g. "512MiB").
func (b *byteSize) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*b = byteSize(asInt)
		return nil
	}

	var asString string
	if err := value.Decode(&asString); err != nil {
		return errors.New("byte size must be an integer or a suffixed string")
	}

	parsed, err := humanize.ParseBytes(asString)
	if err != nil {
		return errors.Wrap(err, "unable to parse byte size")
	}
	*b = byteSize(parsed)
	return nil
}

// String renders the byte size in human-friendly form.
func (b byteSize) String() string {
	return humanize.Bytes(uint64(b))
}

var _ fmt.Stringer = byteSize(0)

// CacheSettings mirrors cache.Configuration with YAML tags and
// human-friendly durations/sizes.
type CacheSettings struct {
	MaxSize         byteSize      `yaml:"maxSize"`
	MaxAge          time.Duration `yaml:"maxAge"`
	IndexPath       string        `yaml:"indexPath"`
	EvictionPolicy  string        `yaml:"evictionPolicy"`
	Concurrency     int           `yaml:"concurrency"`
	VerifyIntegrity bool          `yaml:"verifyIntegrity"`
	GCInterval      time.Duration `yaml:"gcInterval"`
	CacheKeyVersion string        `yaml:"cacheKeyVersion"`
	DefaultTTL      time.Duration `yaml:"defaultTTL"`
}

// ToCacheConfiguration converts the loaded YAML settings into
// cache.Configuration, applying the same defaults the cache package itself
// would otherwise require the caller to supply.
func (s CacheSettings) ToCacheConfiguration() cache.Configuration {
	gcInterval := s.GCInterval
	if gcInterval <= 0 {
		gcInterval = 5 * time.Minute
	}
	cacheKeyVersion := s.CacheKeyVersion
	if cacheKeyVersion == "" {
		cacheKeyVersion = "v1"
	}
	return cache.Configuration{
		MaxSize:         int64(s.MaxSize),
		MaxAge:          s.MaxAge,
		IndexPath:       s.IndexPath,
		EvictionPolicy:  s.EvictionPolicy,
		Concurrency:     s.Concurrency,
		VerifyIntegrity: s.VerifyIntegrity,
		GCInterval:      gcInterval,
		CacheKeyVersion: cacheKeyVersion,
		DefaultTTL:      s.DefaultTTL,
	}
}

// SchedulerSettings mirrors scheduler.Configuration.
type SchedulerSettings struct {
	Concurrency   int    `yaml:"concurrency"`
	FailFast      bool   `yaml:"failFast"`
	OperationType string `yaml:"operationType"`
	BuildVersion  string `yaml:"buildVersion"`
}

// ToSchedulerConfiguration converts the loaded YAML settings into
// scheduler.Configuration.
func (s SchedulerSettings) ToSchedulerConfiguration() scheduler.Configuration {
	return scheduler.Configuration{
		Concurrency:   s.Concurrency,
		FailFast:      s.FailFast,
		OperationType: s.OperationType,
		BuildVersion:  s.BuildVersion,
	}
}

// Configuration is the top-level YAML configuration document.
type Configuration struct {
	Platform struct {
		OS           string `yaml:"os"`
		Architecture string `yaml:"architecture"`
	} `yaml:"platform"`
	Cache     CacheSettings     `yaml:"cache"`
	Scheduler SchedulerSettings `yaml:"scheduler"`
}

// ToPlatform converts the loaded platform settings into a v1.Platform.
func (c Configuration) ToPlatform() v1.Platform {
	return v1.Platform{OS: c.Platform.OS, Architecture: c.Platform.Architecture}
}

// Load reads and strictly decodes a YAML configuration document from path.
// os.IsNotExist errors pass through unwrapped so callers can distinguish
// "no configuration file" from "malformed configuration file".
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var config Configuration
	if err := decoder.Decode(&config); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration file")
	}

	return &config, nil
}
