package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppmon/internal/ingest"
	"github.com/matheus3301/wppmon/internal/status"
	"github.com/matheus3301/wppmon/internal/store"
	"go.uber.org/zap"
)

// ContextHTTP is the error log context for failures in request handling.
const ContextHTTP = "http_handler"

const defaultMessageLimit = 50

// Controller is the connection lifecycle surface used by the API.
type Controller interface {
	Status() status.Snapshot
	Logout(ctx context.Context) error
}

// Ingester is the manual ingestion surface used by the API.
type Ingester interface {
	Simulate(ctx context.Context, content, author, groupID, groupName string) (store.Message, error)
	Stats() ingest.Stats
}

// Store is the durable store surface used by the API.
type Store interface {
	GetMessages(limit int) []store.Message
	CountMessages() int
	UpdateMessageStatus(id int64, status store.MessageStatus, errMsg string) error
	UpsertGroup(in store.GroupInput) (store.Group, error)
	GetGroup(groupID string) (store.Group, bool)
	GetActiveGroups() []store.Group
	SetGroupActive(groupID string, isActive bool) error
	GetRecentErrors(limit int) []store.ErrorEntry
	SetConfig(key string, value any) error
	GetConfig(key string) (json.RawMessage, bool)
	LogError(err error, context string)
}

// Handler serves the monitor's HTTP API.
type Handler struct {
	controller Controller
	ingester   Ingester
	store      Store
	logger     *zap.Logger
	startedAt  time.Time
}

// NewHandler creates a new handler.
func NewHandler(controller Controller, ingester Ingester, s Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		controller: controller,
		ingester:   ingester,
		store:      s,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

// Health answers as soon as the process listens, whatever the connection state.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime":    seconds(time.Since(h.startedAt)),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type qrCodeStatus struct {
	Available bool   `json:"available"`
	Status    string `json:"status"`
}

type botStatus struct {
	WhatsApp string       `json:"whatsapp"`
	Phase    status.Phase `json:"phase"`
	Fallback bool         `json:"fallback"`
	QRCode   qrCodeStatus `json:"qrCode"`
}

type storageStatus struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

type statistics struct {
	TotalMessages     int          `json:"totalMessages"`
	MonitoredMessages int64        `json:"monitoredMessages"`
	SuccessRate       float64      `json:"successRate"`
	Pipeline          ingest.Stats `json:"pipeline"`
}

type statusResponse struct {
	BotStatus  botStatus     `json:"botStatus"`
	Storage    storageStatus `json:"storage"`
	Statistics statistics    `json:"statistics"`
	Uptime     string        `json:"uptime"`
}

// Status reports connection phase, pairing availability and message statistics.
func (h *Handler) Status(c *gin.Context) {
	snap := h.controller.Status()
	stats := h.ingester.Stats()

	whatsapp := "Initializing"
	switch {
	case snap.IsReady:
		whatsapp = "Connected"
	case snap.PairingPayload != "":
		whatsapp = "Waiting for QR scan"
	}

	c.JSON(http.StatusOK, statusResponse{
		BotStatus: botStatus{
			WhatsApp: whatsapp,
			Phase:    snap.Phase,
			Fallback: snap.Fallback,
			QRCode: qrCodeStatus{
				Available: snap.PairingPayload != "",
				Status:    phaseLabel(snap),
			},
		},
		Storage: storageStatus{Type: "file", Connected: true},
		Statistics: statistics{
			TotalMessages:     h.store.CountMessages(),
			MonitoredMessages: snap.MessageCount,
			SuccessRate:       successRate(stats),
			Pipeline:          stats,
		},
		Uptime: seconds(snap.Uptime),
	})
}

func phaseLabel(snap status.Snapshot) string {
	switch snap.Phase {
	case status.AwaitingPairing:
		return "Waiting for QR scan"
	case status.Failed:
		return "Authentication failed"
	case status.Connected:
		if snap.Fallback {
			return "Connected - Simulation mode"
		}
	}
	return string(snap.Phase)
}

// successRate is the share of non-duplicate, valid events that were stored.
func successRate(s ingest.Stats) float64 {
	attempted := s.Stored + s.Failed
	if attempted == 0 {
		return 100
	}
	return float64(s.Stored) * 100 / float64(attempted)
}

// QRCode returns the pairing payload when one is pending.
func (h *Handler) QRCode(c *gin.Context) {
	snap := h.controller.Status()
	switch {
	case snap.IsReady:
		c.JSON(http.StatusOK, gin.H{
			"status":  "already_connected",
			"message": "WhatsApp is already authenticated and connected",
		})
	case snap.PairingPayload != "":
		c.JSON(http.StatusOK, gin.H{
			"qr":      snap.PairingPayload,
			"status":  "qr_ready",
			"message": "QR code ready for scanning",
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":  "generating",
			"message": "QR code is being generated, please wait...",
		})
	}
}

// Logout always reports success: the controller resets its state even when
// the transport fails to log out.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.controller.Logout(c.Request.Context()); err != nil {
		h.logger.Warn("transport logout failed", zap.Error(err))
		h.store.LogError(err, ContextHTTP)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}

// queryLimit parses ?limit=, falling back to def for missing or invalid values.
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (h *Handler) internalError(c *gin.Context, err error, msg string) {
	h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	h.store.LogError(err, ContextHTTP)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
