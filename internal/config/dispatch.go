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

// DispatchConfig tunes job dispatch and scheduler behavior.
type DispatchConfig struct {
	DebounceWindow    time.Duration `mapstructure:"debounceWindow"`
	RunInterval       time.Duration `mapstructure:"runInterval"`
	Workers           int           `mapstructure:"workers"`
	ClaimBatchSize    int           `mapstructure:"claimBatchSize"`
	RecoveryThreshold time.Duration `mapstructure:"recoveryThreshold"`
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		DebounceWindow:    30 * time.Minute,
		RunInterval:       time.Second,
		Workers:           4,
		ClaimBatchSize:    25,
		RecoveryThreshold: 15 * time.Minute,
	}
}

// DispatchConfigHolder serves the current dispatch config and hot-reloads it
// when the backing file changes.
type DispatchConfigHolder struct {
	current atomic.Value // holds DispatchConfig
}

func NewDispatchConfigHolder() (*DispatchConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("capstan")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/capstan/config")
	v.AddConfigPath("/etc/capstan")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CAPSTAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultDispatchConfig()
		v.SetDefault("dispatch.debounceWindow", defaults.DebounceWindow)
		v.SetDefault("dispatch.runInterval", defaults.RunInterval)
		v.SetDefault("dispatch.workers", defaults.Workers)
		v.SetDefault("dispatch.claimBatchSize", defaults.ClaimBatchSize)
		v.SetDefault("dispatch.recoveryThreshold", defaults.RecoveryThreshold)
	}

	var cfg DispatchConfig
	if err := v.UnmarshalKey("dispatch", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateDispatchConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DispatchConfig
		if err := v.UnmarshalKey("dispatch", &updated); err != nil {
			log.Printf("[dispatch-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateDispatchConfig(updated); err != nil {
			log.Printf("[dispatch-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[dispatch-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticDispatchConfigHolder wraps a fixed config with no file watching.
func NewStaticDispatchConfigHolder(cfg DispatchConfig) *DispatchConfigHolder {
	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *DispatchConfigHolder) Get() DispatchConfig {
	return h.current.Load().(DispatchConfig)
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	defaults := DefaultDispatchConfig()
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaults.DebounceWindow
	}
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.ClaimBatchSize <= 0 {
		c.ClaimBatchSize = defaults.ClaimBatchSize
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}

func validateDispatchConfig(cfg DispatchConfig) error {
	if cfg.RecoveryThreshold <= cfg.RunInterval {
		return errors.New("dispatch: recoveryThreshold must exceed runInterval")
	}
	return nil
}
