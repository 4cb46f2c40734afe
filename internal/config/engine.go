package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EngineConfig holds the tuning knobs for the batch pipeline. Batch sizes and
// delays bound memory use and keep heavy backfills from starving the event store.
type EngineConfig struct {
	BackfillPageSize     int           `mapstructure:"backfillPageSize"`
	BackfillPageDelay    time.Duration `mapstructure:"backfillPageDelay"`
	UpdaterBatchSize     int           `mapstructure:"updaterBatchSize"`
	UpdaterPollInterval  time.Duration `mapstructure:"updaterPollInterval"`
	BackfillPollInterval time.Duration `mapstructure:"backfillPollInterval"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BackfillPageSize:     500,
		BackfillPageDelay:    100 * time.Millisecond,
		UpdaterBatchSize:     200,
		UpdaterPollInterval:  30 * time.Second,
		BackfillPollInterval: 5 * time.Minute,
	}
}

// EngineConfigHolder serves the current engine config and swaps it atomically
// on file change, so long-running workers pick up new knobs between batches.
type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/meterline/config") // Volume-mounted config
	v.AddConfigPath("/etc/meterline")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("METERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultEngineConfig()
		v.SetDefault("engine.backfillPageSize", defaults.BackfillPageSize)
		v.SetDefault("engine.backfillPageDelay", defaults.BackfillPageDelay)
		v.SetDefault("engine.updaterBatchSize", defaults.UpdaterBatchSize)
		v.SetDefault("engine.updaterPollInterval", defaults.UpdaterPollInterval)
		v.SetDefault("engine.backfillPollInterval", defaults.BackfillPollInterval)
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Printf("[engine-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateEngineConfig(updated); err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticEngineConfigHolder serves a fixed config with no file watching.
func StaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func (c EngineConfig) withDefaults() EngineConfig {
	defaults := DefaultEngineConfig()
	if c.BackfillPageSize <= 0 {
		c.BackfillPageSize = defaults.BackfillPageSize
	}
	if c.BackfillPageDelay < 0 {
		c.BackfillPageDelay = defaults.BackfillPageDelay
	}
	if c.UpdaterBatchSize <= 0 {
		c.UpdaterBatchSize = defaults.UpdaterBatchSize
	}
	if c.UpdaterPollInterval <= 0 {
		c.UpdaterPollInterval = defaults.UpdaterPollInterval
	}
	if c.BackfillPollInterval <= 0 {
		c.BackfillPollInterval = defaults.BackfillPollInterval
	}
	return c
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.BackfillPageSize > 10_000 {
		return errors.New("engine.backfillPageSize cannot exceed 10000")
	}
	if cfg.UpdaterBatchSize > 10_000 {
		return errors.New("engine.updaterBatchSize cannot exceed 10000")
	}
	return nil
}
