package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppmon/internal/config"
	"github.com/matheus3301/wppmon/internal/status"
	"go.uber.org/zap"
)

// StatusSource is what the heartbeat reports on.
type StatusSource interface {
	Status() status.Snapshot
}

// Heartbeat periodically logs the connection phase, message count and uptime.
type Heartbeat struct {
	interval time.Duration
	source   StatusSource
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewHeartbeat creates a heartbeat. A zero interval disables it.
func NewHeartbeat(cfg *config.Config, c *status.Controller, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		interval: cfg.Heartbeat(),
		source:   c,
		logger:   logger,
	}
}

// Start begins the reporting loop.
func (h *Heartbeat) Start(ctx context.Context) {
	if h.interval <= 0 {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	go h.loop(ctx)
}

// Stop stops the reporting loop.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.beat()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Heartbeat) beat() {
	snap := h.source.Status()
	h.logger.Info("status",
		zap.String("phase", string(snap.Phase)),
		zap.Int64("messages", snap.MessageCount),
		zap.String("uptime", fmt.Sprintf("%ds", int64(snap.Uptime/time.Second))),
		zap.Bool("fallback", snap.Fallback),
	)
}
