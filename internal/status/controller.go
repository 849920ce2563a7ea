package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wppmon/internal/bus"
	"go.uber.org/zap"
)

// Collaborator is the chat-protocol client whose lifecycle the controller
// tracks. Lifecycle events come back through the bus.
type Collaborator interface {
	Initialize(ctx context.Context) error
	Logout(ctx context.Context) error
	Destroy()
}

// ErrNoCollaborator is reported when no transport could be constructed.
var ErrNoCollaborator = errors.New("chat transport unavailable")

// Options tunes controller timing.
type Options struct {
	// ReinitDelay is the wait between a logout and the single reinitialization attempt.
	ReinitDelay time.Duration
	// LogoutTimeout bounds the collaborator's logout call.
	LogoutTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReinitDelay <= 0 {
		o.ReinitDelay = 5 * time.Second
	}
	if o.LogoutTimeout <= 0 {
		o.LogoutTimeout = 10 * time.Second
	}
	return o
}

// Snapshot is a point-in-time view of the connection state.
type Snapshot struct {
	Phase          Phase         `json:"phase"`
	IsReady        bool          `json:"isReady"`
	PairingPayload string        `json:"pairingPayload,omitempty"`
	MessageCount   int64         `json:"messageCount"`
	Uptime         time.Duration `json:"-"`
	StartedAt      time.Time     `json:"startedAt"`
	Fallback       bool          `json:"fallback"`
}

// Controller owns the process-wide connection state. It is the only writer
// of the phase machine, the pairing payload and the message counter.
type Controller struct {
	machine *Machine
	client  Collaborator
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	// mu keeps the phase and the fields below consistent with each other.
	mu       sync.Mutex
	payload  string
	fallback bool
	reinit   *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	unsub    func()
	done     chan struct{}

	messageCount atomic.Int64
	startedAt    time.Time
}

// NewController creates a controller. A nil client means the real transport
// is unavailable and Initialize engages fallback mode.
func NewController(machine *Machine, client Collaborator, b *bus.Bus, logger *zap.Logger, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		machine:   machine,
		client:    client,
		bus:       b,
		logger:    logger,
		opts:      opts.withDefaults(),
		ctx:       context.Background(),
		startedAt: time.Now(),
	}
}

// Start consumes collaborator lifecycle events from the bus.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	if c.bus == nil {
		return
	}
	ch, unsub := c.bus.SubscribeOrdered("session.", 16)
	c.unsub = unsub
	c.done = make(chan struct{})

	go func(ctx context.Context, done chan struct{}) {
		defer close(done)
		for {
			select {
			case evt := <-ch:
				c.HandleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}(c.ctx, c.done)
}

// Stop cancels any pending reinitialization, stops event consumption and
// tears the collaborator down.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.reinit != nil {
		c.reinit.Stop()
		c.reinit = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	unsub, done := c.unsub, c.done
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if done != nil {
		<-done
	}
	if c.client != nil {
		c.safeCall("destroy", func() error {
			c.client.Destroy()
			return nil
		})
	}
}

// Initialize starts the collaborator. When there is none, or it fails to
// start, the controller falls back to a simulated Connected state.
func (c *Controller) Initialize(ctx context.Context) error {
	if c.client == nil {
		c.logger.Warn("no chat transport, using simulation mode")
		c.engageFallback()
		return ErrNoCollaborator
	}

	c.logger.Info("initializing chat transport")
	err := c.safeCall("initialize", func() error { return c.client.Initialize(ctx) })
	if err == nil {
		return nil
	}

	c.logger.Error("chat transport initialization failed, using simulation mode", zap.Error(err))
	c.mu.Lock()
	c.moveLocked(Failed)
	c.payload = ""
	c.mu.Unlock()
	c.engageFallback()
	return err
}

func (c *Controller) engageFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.machine.Current() {
	case Initializing, Failed:
		c.moveLocked(Connected)
		c.fallback = true
		c.payload = ""
	}
}

// Logout asks the collaborator to end its session, then resets local state
// to Disconnected whatever the outcome, and schedules one reinitialization.
// The collaborator's error, if any, is returned for reporting only.
func (c *Controller) Logout(ctx context.Context) error {
	var err error
	if c.client != nil {
		lctx, cancel := context.WithTimeout(ctx, c.opts.LogoutTimeout)
		err = c.safeCall("logout", func() error { return c.client.Logout(lctx) })
		cancel()
		if err != nil {
			c.logger.Warn("collaborator logout failed, resetting state anyway", zap.Error(err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.Force(Disconnected)
	c.payload = ""
	c.fallback = false
	c.scheduleReinitLocked()
	c.logger.Info("logged out", zap.Duration("reinit_in", c.opts.ReinitDelay))
	return err
}

func (c *Controller) scheduleReinitLocked() {
	if c.reinit != nil {
		c.reinit.Stop()
	}
	c.reinit = time.AfterFunc(c.opts.ReinitDelay, c.reinitialize)
}

func (c *Controller) reinitialize() {
	c.mu.Lock()
	c.reinit = nil
	ctx := c.ctx
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if err := c.machine.Transition(Initializing); err != nil {
		c.mu.Unlock()
		c.logger.Info("skipping reinitialization", zap.Error(err))
		return
	}
	c.mu.Unlock()

	if err := c.Initialize(ctx); err != nil {
		c.logger.Warn("reinitialization did not reach the transport", zap.Error(err))
	}
}

// HandleEvent applies one collaborator lifecycle event.
func (c *Controller) HandleEvent(evt bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Kind {
	case bus.KindPairingRequired:
		payload, _ := evt.Payload.(string)
		if c.machine.Current() != AwaitingPairing && !c.moveLocked(AwaitingPairing) {
			return
		}
		c.payload = payload
		c.logger.Info("pairing payload available")
	case bus.KindAuthenticated:
		if c.moveLocked(Authenticated) {
			c.payload = ""
		}
	case bus.KindReady:
		current := c.machine.Current()
		if current == Connected {
			c.fallback = false
			return
		}
		// A transport that reconnects on its own goes through a restart.
		if current == Disconnected {
			c.moveLocked(Initializing)
		}
		if c.moveLocked(Connected) {
			c.payload = ""
			c.fallback = false
		}
	case bus.KindAuthFailure:
		reason, _ := evt.Payload.(string)
		c.logger.Warn("authentication failed", zap.String("reason", reason))
		if !c.moveLocked(Failed) {
			c.moveLocked(Disconnected)
		}
		c.payload = ""
	case bus.KindDisconnected:
		reason, _ := evt.Payload.(string)
		c.logger.Warn("transport disconnected", zap.String("reason", reason))
		if c.fallback {
			return
		}
		c.moveLocked(Disconnected)
		c.payload = ""
	}
}

// moveLocked transitions the machine, logging rejected moves. Callers hold mu.
func (c *Controller) moveLocked(to Phase) bool {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("ignoring lifecycle event", zap.Error(err))
		return false
	}
	c.logger.Info("connection phase changed", zap.String("phase", string(to)))
	return true
}

// Status returns the current connection state.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	phase := c.machine.Current()
	return Snapshot{
		Phase:          phase,
		IsReady:        phase == Connected,
		PairingPayload: c.payload,
		MessageCount:   c.messageCount.Load(),
		Uptime:         time.Since(c.startedAt),
		StartedAt:      c.startedAt,
		Fallback:       c.fallback,
	}
}

// Uptime returns the time since the controller was created.
func (c *Controller) Uptime() time.Duration {
	return time.Since(c.startedAt)
}

// IncrementMessageCount records one ingested message.
func (c *Controller) IncrementMessageCount() {
	c.messageCount.Add(1)
}

// SetMessageCount reconciles the counter, typically from the store at startup.
func (c *Controller) SetMessageCount(n int64) {
	c.messageCount.Store(n)
}

// safeCall runs a collaborator call, turning a panic into an error.
func (c *Controller) safeCall(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator %s panicked: %v", op, r)
		}
	}()
	return fn()
}
