// Package config loads the JSON deployment file describing a rank's
// transport, buffering, and scaling parameters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"ranklink/internal/global"
)

// JSONConfig mirrors the on-disk file layout exactly; Config is the
// resolved, typed form the rest of the program consumes.
type JSONConfig struct {
	Cluster struct {
		Host          string `json:"host"`
		BasePort      int    `json:"basePort"`
		Rank          int    `json:"rank"`
		Size          int    `json:"size"`
	} `json:"cluster"`

	Buffering struct {
		BufferCapacity int `json:"bufferCapacity"`
		PoolMargin     int `json:"poolMargin"`
		QueueCapacity  int `json:"queueCapacity"`
	} `json:"buffering"`

	AutoScaling struct {
		Enabled      bool   `json:"enabled"`
		PollInterval string `json:"pollInterval"`
		MinQueueSize int    `json:"minQueueSize"`
		MaxQueueSize int    `json:"maxQueueSize"`
	} `json:"autoScaling"`

	Callbacks struct {
		Threads int `json:"threads"`
	} `json:"callbacks"`
}

// Config is the resolved runtime configuration for one rank.
type Config struct {
	Host     string
	BasePort int
	Rank     int
	Size     int

	BufferCapacity int
	PoolMargin     int
	QueueCapacity  uint64

	AutoscaleEnabled       bool
	AutoscaleCheckInterval time.Duration
	MinQueueSize           uint64
	MaxQueueSize           uint64

	CallbackThreads int
}

// LoadConfig reads and parses the JSON file at path.
func LoadConfig(path string) (cfg JSONConfig, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read config file: %w", err)
		return
	}
	if err = json.Unmarshal(raw, &cfg); err != nil {
		err = fmt.Errorf("invalid config syntax in '%s': %w", path, err)
	}
	return
}

// Resolve converts the JSON shape into a Config, parsing durations and
// filling in defaults for anything left zero.
func (cfg JSONConfig) Resolve() (config Config, err error) {
	config.Host = cfg.Cluster.Host
	config.BasePort = cfg.Cluster.BasePort
	config.Rank = cfg.Cluster.Rank
	config.Size = cfg.Cluster.Size

	config.BufferCapacity = cfg.Buffering.BufferCapacity
	config.PoolMargin = cfg.Buffering.PoolMargin
	config.QueueCapacity = uint64(cfg.Buffering.QueueCapacity)

	config.AutoscaleEnabled = cfg.AutoScaling.Enabled
	config.MinQueueSize = uint64(cfg.AutoScaling.MinQueueSize)
	config.MaxQueueSize = uint64(cfg.AutoScaling.MaxQueueSize)
	if cfg.AutoScaling.PollInterval != "" {
		config.AutoscaleCheckInterval, err = time.ParseDuration(cfg.AutoScaling.PollInterval)
		if err != nil {
			err = fmt.Errorf("failed to parse autoscale poll interval: %w", err)
			return
		}
	}

	config.CallbackThreads = cfg.Callbacks.Threads

	config.setDefaults()
	return
}

// setDefaults fills in anything left at its zero value after parsing.
func (cfg *Config) setDefaults() {
	global.LogicalCPUCount = runtime.NumCPU()

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.BasePort == 0 {
		cfg.BasePort = global.DefaultRankBasePort
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = global.DefaultBufferCapacity
	}
	if cfg.PoolMargin == 0 {
		cfg.PoolMargin = global.DefaultPoolMargin
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = global.DefaultQueueCapacity
	}
	if cfg.AutoscaleCheckInterval == 0 {
		cfg.AutoscaleCheckInterval = global.DefaultPollInterval
	}
	if cfg.MinQueueSize == 0 {
		cfg.MinQueueSize = global.DefaultMinQueueSize
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = global.DefaultMaxQueueSize
	}
	if cfg.CallbackThreads == 0 {
		cfg.CallbackThreads = 1
	}
}
