package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSample is one CPU and memory reading of a managed process.
type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ResourceCollector periodically samples the processes returned by a target
// func, keyed by process id, and exports the latest sample as gauges.
type ResourceCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	history map[string][]ResourceSample
	handles map[string]*process.Process // kept so CPUPercent has a previous reading

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 60
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "minions",
			Subsystem: "process",
			Name:      name,
			Help:      help,
		}, []string{"id"})
	}
	return &ResourceCollector{
		enabled:    cfg.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		history:    make(map[string][]ResourceSample),
		handles:    make(map[string]*process.Process),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of managed processes."),
		memoryRSS:  gauge("memory_rss_bytes", "Resident memory of managed processes."),
		numThreads: gauge("num_threads", "Thread count of managed processes."),
		numFDs:     gauge("num_fds", "Open file descriptors of managed processes (Unix only)."),
	}
}

func (c *ResourceCollector) Enabled() bool { return c.enabled }

// RegisterMetrics registers the gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryRSS, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, col := range collectors {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples targets every interval until ctx is done or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context, targets func(context.Context) map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(targets(ctx))
			}
		}
	}()
}

func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every target and forgets keys no longer present.
func (c *ResourceCollector) Collect(targets map[string]int32) {
	now := time.Now()
	for key, pid := range targets {
		if pid <= 0 {
			continue
		}
		s, err := c.sample(key, pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "id", key, "pid", pid, "error", err)
			continue
		}
		c.cpuPercent.WithLabelValues(key).Set(s.CPUPercent)
		c.memoryRSS.WithLabelValues(key).Set(float64(s.MemoryRSS))
		c.numThreads.WithLabelValues(key).Set(float64(s.NumThreads))
		if runtime.GOOS != "windows" && s.NumFDs > 0 {
			c.numFDs.WithLabelValues(key).Set(float64(s.NumFDs))
		}
		c.append(key, s)
	}
	c.forget(targets)
}

func (c *ResourceCollector) sample(key string, pid int32, now time.Time) (ResourceSample, error) {
	c.mu.Lock()
	p, ok := c.handles[key]
	if !ok || p.Pid != pid {
		np, err := process.NewProcess(pid)
		if err != nil {
			c.mu.Unlock()
			return ResourceSample{}, fmt.Errorf("open process: %w", err)
		}
		p = np
		c.handles[key] = p
	}
	c.mu.Unlock()

	mem, err := p.MemoryInfo()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("memory info: %w", err)
	}
	s := ResourceSample{PID: pid, MemoryRSS: mem.RSS, MemoryVMS: mem.VMS, Timestamp: now}
	if cpu, err := p.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		s.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}

func (c *ResourceCollector) append(key string, s ResourceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history[key]
	if len(h) >= c.maxHistory {
		h = h[1:]
	}
	c.history[key] = append(h, s)
}

func (c *ResourceCollector) forget(active map[string]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.handles {
		if _, ok := active[key]; ok {
			continue
		}
		delete(c.history, key)
		delete(c.handles, key)
		c.cpuPercent.DeleteLabelValues(key)
		c.memoryRSS.DeleteLabelValues(key)
		c.numThreads.DeleteLabelValues(key)
		c.numFDs.DeleteLabelValues(key)
	}
}

// Latest returns the most recent sample for key.
func (c *ResourceCollector) Latest(key string) (ResourceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[key]
	if len(h) == 0 {
		return ResourceSample{}, false
	}
	return h[len(h)-1], true
}

// History returns the retained samples for key, oldest first.
func (c *ResourceCollector) History(key string) []ResourceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ResourceSample(nil), c.history[key]...)
}
