package wa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/wppmon/internal/bus"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures the WhatsApp adapter.
type Options struct {
	// SessionDB is the path of the whatsmeow device database.
	SessionDB string
	// DeviceName is shown in the phone's linked devices list.
	DeviceName string
}

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
// It implements the lifecycle controller's collaborator contract.
type Adapter struct {
	// mu serializes Initialize, Logout and Destroy.
	mu        sync.Mutex
	client    atomic.Pointer[whatsmeow.Client]
	container *sqlstore.Container
	handlers  []whatsmeow.EventHandler
	cancelQR  context.CancelFunc

	bus    *bus.Bus
	logger *zap.Logger

	groupNames sync.Map
}

// NewAdapter opens the session database and prepares a client for its device.
func NewAdapter(ctx context.Context, opts Options, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	if opts.DeviceName != "" {
		wastore.SetOSInfo(opts.DeviceName, [3]uint32{0, 1, 0})
	}

	if err := os.MkdirAll(filepath.Dir(opts.SessionDB), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", opts.SessionDB),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	a := &Adapter{
		container: container,
		bus:       b,
		logger:    logger,
	}
	if _, err := a.newClient(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// newClient builds a client for the first stored device, or a fresh device
// when none is paired, and attaches the registered handlers.
func (a *Adapter) newClient(ctx context.Context) (*whatsmeow.Client, error) {
	deviceStore, err := a.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}
	client := whatsmeow.NewClient(deviceStore, nil)
	for _, h := range a.handlers {
		client.AddEventHandler(h)
	}
	a.client.Store(client)
	return client, nil
}

// RegisterEventHandler adds a handler for whatsmeow events. Handlers survive
// client recreation after a logout.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
	if c := a.client.Load(); c != nil {
		c.AddEventHandler(handler)
	}
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	c := a.client.Load()
	return c != nil && c.Store.ID != nil
}

// Initialize connects with stored credentials, or starts QR pairing when the
// device is not paired yet.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	client := a.client.Load()
	if client == nil {
		var err error
		if client, err = a.newClient(ctx); err != nil {
			return err
		}
	}
	if client.IsConnected() {
		return nil
	}
	if client.Store.ID == nil {
		return a.startPairingLocked(client)
	}
	a.logger.Info("connecting to WhatsApp")
	return client.Connect()
}

// Logout invalidates the session on the server and removes credentials. A
// client without credentials is just disconnected.
func (a *Adapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopPairingLocked()
	client := a.client.Swap(nil)
	if client == nil {
		return nil
	}
	if client.Store.ID == nil {
		client.Disconnect()
		return nil
	}
	err := client.Logout(ctx)
	client.Disconnect()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Destroy terminates the connection without touching credentials.
func (a *Adapter) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopPairingLocked()
	if c := a.client.Load(); c != nil {
		a.logger.Info("disconnecting from WhatsApp")
		c.Disconnect()
	}
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	c := a.client.Load()
	if c == nil || c.Store.ID == nil {
		return ""
	}
	return c.Store.ID.User
}

// GroupName resolves a group's subject, caching successful lookups.
func (a *Adapter) GroupName(ctx context.Context, jid types.JID) string {
	key := jid.ToNonAD().String()
	if v, ok := a.groupNames.Load(key); ok {
		return v.(string)
	}
	c := a.client.Load()
	if c == nil {
		return ""
	}
	info, err := c.GetGroupInfo(ctx, jid)
	if err != nil {
		a.logger.Debug("failed to resolve group name", zap.String("group_id", key), zap.Error(err))
		return ""
	}
	a.groupNames.Store(key, info.Name)
	return info.Name
}
