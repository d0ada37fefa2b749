package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Gauge is any counter the telemetry worker samples on each tick.
type Gauge interface {
	Len() int
}

// TelemetryWorker periodically logs service gauges (sessions, chatrooms)
// together with the server process's own CPU and memory usage.
type TelemetryWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	sessions       Gauge
	chatrooms      Gauge
}

func NewTelemetryWorker(
	log *slog.Logger,
	metricInterval time.Duration,
	sessions Gauge,
	chatrooms Gauge,
) *TelemetryWorker {
	return &TelemetryWorker{
		log:            log,
		metricInterval: metricInterval,
		sessions:       sessions,
		chatrooms:      chatrooms,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		w.log.Error("Error while retrieving own process", "err", err)
		proc = nil
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			attrs := []any{
				"sessions", w.sessions.Len(),
				"chatrooms", w.chatrooms.Len(),
			}
			if proc != nil {
				if cpu, err := proc.CPUPercent(); err == nil {
					attrs = append(attrs, "cpu_percent", cpu)
				}
				if ram, err := proc.MemoryPercent(); err == nil {
					attrs = append(attrs, "ram_percent", ram)
				}
			}
			w.log.Info("telemetry", attrs...)
		}
	}
}
