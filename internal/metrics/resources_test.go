package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResourceCollectorDefaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          ResourceConfig
		wantInterval time.Duration
		wantHistory  int
	}{
		{name: "defaults", cfg: ResourceConfig{Enabled: true}, wantInterval: 5 * time.Second, wantHistory: 60},
		{name: "custom", cfg: ResourceConfig{Enabled: true, Interval: time.Second, MaxHistory: 3}, wantInterval: time.Second, wantHistory: 3},
		{name: "disabled", cfg: ResourceConfig{}, wantInterval: 5 * time.Second, wantHistory: 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewResourceCollector(tt.cfg)
			assert.Equal(t, tt.cfg.Enabled, c.Enabled())
			assert.Equal(t, tt.wantInterval, c.interval)
			assert.Equal(t, tt.wantHistory, c.maxHistory)
		})
	}
}

func TestCollectSelfAndForget(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{Enabled: true, MaxHistory: 2})
	reg := prometheus.NewRegistry()
	require.NoError(t, c.RegisterMetrics(reg))

	self := map[string]int32{"1": int32(os.Getpid())}
	for i := 0; i < 3; i++ {
		c.Collect(self)
	}
	latest, ok := c.Latest("1")
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), latest.PID)
	assert.Greater(t, latest.MemoryRSS, uint64(0))
	assert.Len(t, c.History("1"), 2, "history is capped at MaxHistory")

	c.Collect(map[string]int32{})
	_, ok = c.Latest("1")
	assert.False(t, ok, "samples of vanished targets are dropped")
}

func TestCollectSkipsInvalidPIDs(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{Enabled: true})
	c.Collect(map[string]int32{"0": 0, "neg": -5})
	_, ok := c.Latest("0")
	assert.False(t, ok)
}

func TestStartStop(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{Enabled: true, Interval: 20 * time.Millisecond})
	calls := make(chan struct{}, 16)
	c.Start(context.Background(), func(context.Context) map[string]int32 {
		select {
		case calls <- struct{}{}:
		default:
		}
		return map[string]int32{"self": int32(os.Getpid())}
	})
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("collector never sampled")
	}
	c.Stop()
	c.Stop() // idempotent
}
