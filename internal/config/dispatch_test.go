package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchConfigWithDefaults(t *testing.T) {
	cfg := DispatchConfig{}.withDefaults()
	assert.Equal(t, DefaultDispatchConfig(), cfg)

	cfg = DispatchConfig{
		DebounceWindow: 5 * time.Minute,
		Workers:        2,
	}.withDefaults()
	assert.Equal(t, 5*time.Minute, cfg.DebounceWindow)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, time.Second, cfg.RunInterval)
	assert.Equal(t, 25, cfg.ClaimBatchSize)
}

func TestValidateDispatchConfig(t *testing.T) {
	assert.NoError(t, validateDispatchConfig(DefaultDispatchConfig()))

	bad := DefaultDispatchConfig()
	bad.RecoveryThreshold = bad.RunInterval
	assert.Error(t, validateDispatchConfig(bad))
}

func TestStaticHolderAppliesDefaults(t *testing.T) {
	holder := NewStaticDispatchConfigHolder(DispatchConfig{Workers: 8})
	got := holder.Get()
	assert.Equal(t, 8, got.Workers)
	assert.Equal(t, 30*time.Minute, got.DebounceWindow)
}
