package registry

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically sweeps the registry for transfers past their deadline.
// It is cooperatively stoppable: Stop cancels the loop and waits for the
// current sweep to finish.
type Reaper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewReaper(r *Registry, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		registry: r,
		interval: interval,
		logger:   logger,
	}
}

func (rp *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel
	rp.done = make(chan struct{})
	go rp.loop(ctx)
}

func (rp *Reaper) Stop() {
	if rp.cancel == nil {
		return
	}
	rp.cancel()
	<-rp.done
}

func (rp *Reaper) loop(ctx context.Context) {
	defer close(rp.done)

	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rp.registry.Sweep(ctx); err != nil {
				rp.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
