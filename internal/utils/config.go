package util

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	PolicyScan  = "scan"
	PolicyLRU   = "lru"
	PolicyClock = "clock"
)

// Options represents database configuration options
type Options struct {
	Path           string `yaml:"path"`
	PageSize       int    `yaml:"page_size"`
	BufferPoolSize int    `yaml:"buffer_pool_size"`
	EvictionPolicy string `yaml:"eviction_policy"`
	ClockMaxLoop   int    `yaml:"clock_max_loop"`
	SyncWrites     bool   `yaml:"sync_writes"`
	MaxRetries     int    `yaml:"max_retries"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
}

// DefaultOptions returns default database options
func DefaultOptions() Options {
	return Options{
		Path:           "data",
		PageSize:       PageSize,
		BufferPoolSize: 50, // 200KB default buffer pool
		EvictionPolicy: PolicyScan,
		ClockMaxLoop:   3,
		SyncWrites:     false,
		MaxRetries:     5,
		LogLevel:       "INFO",
		LogFormat:      "text",
	}
}

// LoadOptions reads a YAML file on top of DefaultOptions. Keys missing from the
// file keep their default value.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "parse config %s", path)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func (o Options) Validate() error {
	if o.PageSize != PageSize {
		return InvalidArgument("page size is fixed", errors.Wrapf(ErrInvalidPageSize, "got %d, want %d", o.PageSize, PageSize))
	}
	if o.BufferPoolSize <= 0 {
		return InvalidArgument("buffer pool size must be positive", ErrInvalidPoolSize)
	}
	switch o.EvictionPolicy {
	case PolicyScan, PolicyLRU, PolicyClock:
	default:
		return InvalidArgument("eviction policy "+o.EvictionPolicy, ErrInvalidPolicy)
	}
	if o.EvictionPolicy == PolicyClock && o.ClockMaxLoop <= 0 {
		return InvalidArgument("clock_max_loop must be positive", nil)
	}
	if o.MaxRetries < 0 {
		return InvalidArgument("max_retries must not be negative", nil)
	}
	return nil
}
