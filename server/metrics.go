package server

import (
	"expvar"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/INLOpen/pyramid/internal/metricsutil"
)

// SystemCollector periodically publishes host CPU, memory and pyramid disk
// usage via expvar. Mapped level files live in the page cache, so memory
// pressure is worth watching next to the store's mapped-bytes gauge.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	memAvailable    *expvar.Int
	diskUsage       *expvar.Float
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewSystemCollector creates a collector. diskPath is the pyramid directory.
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SystemCollector{
		cpuUsagePercent: metricsutil.PublishFloat("system_cpu_usage_percent"),
		memUsagePercent: metricsutil.PublishFloat("system_mem_usage_percent"),
		memAvailable:    metricsutil.PublishInt("system_mem_available_bytes"),
		diskUsage:       metricsutil.PublishFloat("system_disk_usage_percent"),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		sc.logger.Info("Stopping system metrics collector")
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.collect()
		case <-sc.stopChan:
			return
		}
	}
}

// collect takes one sample of every metric. Failures keep the previous value.
func (sc *SystemCollector) collect() {
	// interval 0: usage since the previous call, without blocking
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sc.cpuUsagePercent.Set(pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
		sc.memAvailable.Set(int64(vm.Available))
	} else {
		sc.logger.Debug("Memory stats unavailable", "error", err)
	}
	if sc.diskPath != "" {
		if du, err := disk.Usage(sc.diskPath); err == nil {
			sc.diskUsage.Set(du.UsedPercent)
		}
	}
}
