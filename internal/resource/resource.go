// Package resource samples host CPU and process memory on an interval and
// feeds them to internal/metrics, the way ws/internal/single/core's
// collectMetrics and platform.CPUMonitor feed the teacher's own gauges.
// It is its own package (rather than living in internal/heartbeat) because
// it has nothing to do with per-stage liveness, only with system load.
package resource

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/signalforge/fusion/internal/metrics"
)

// Sampler periodically records host-wide CPU and this process's RSS memory
// usage.
type Sampler struct {
	proc     *process.Process
	interval time.Duration
	logger   zerolog.Logger
}

// New returns a Sampler for the current process. If the process handle
// cannot be obtained (exotic sandboxing, missing /proc), Run degrades to
// host-wide CPU only and skips memory sampling entirely, mirroring
// platform.NewCPUMonitor's container-to-host fallback.
func New(interval time.Duration, logger zerolog.Logger) *Sampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("resource sampler: process handle unavailable, memory gauge disabled")
		proc = nil
	}
	return &Sampler{proc: proc, interval: interval, logger: logger.With().Str("component", "resource").Logger()}
}

// Run samples on interval until ctx is cancelled. Meant to run as its own
// goroutine alongside a process's main loop, same shape as heartbeat.Run.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		metrics.SetProcessCPUPercent(pct[0])
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("cpu sample failed")
	}

	if s.proc == nil {
		return
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		metrics.SetProcessMemoryMB(float64(mem.RSS) / 1024 / 1024)
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("memory sample failed")
	}
}
