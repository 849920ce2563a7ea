package api

import (
	"net/http"
	"time"

	"github.com/Depado/ginprom"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppmon/internal/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool
	// Debug runs gin in debug mode.
	Debug bool
}

// NewRouter builds the gin engine serving the monitor API.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(recovery(h.logger, h.store))
	r.Use(accessLog(h.logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:           true,
		AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:              []string{"Content-Type", "Authorization", "X-Requested-With", "Origin", "Accept"},
		AllowCredentials:          false,
		MaxAge:                    12 * time.Hour,
		OptionsResponseStatusCode: http.StatusOK,
	}))
	r.Use(preflight())

	if opts.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(h.collectors()...)
		p := ginprom.New(
			ginprom.Registry(reg),
			ginprom.Subsystem("gin"),
			ginprom.Path("/metrics"),
		)
		r.Use(p.Instrument())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	r.POST("/simulate", h.Simulate)

	api := r.Group("/api")
	{
		api.GET("/status", h.Status)
		api.GET("/qr-code", h.QRCode)
		api.GET("/messages", h.Messages)
		api.POST("/messages/:id/status", h.UpdateMessageStatus)
		api.POST("/logout", h.Logout)
		api.POST("/send-message", h.Simulate)

		api.GET("/groups", h.Groups)
		api.POST("/groups", h.UpsertGroup)
		api.PUT("/groups/:groupId/active", h.SetGroupActive)

		api.GET("/errors", h.Errors)
		api.GET("/config/:key", h.GetConfig)
		api.PUT("/config/:key", h.SetConfig)
	}

	return r
}

// collectors exposes the monitor's own counters next to the HTTP metrics.
func (h *Handler) collectors() []prometheus.Collector {
	stat := func(name, help string, get func(ingest.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "wppmon",
			Subsystem: "ingest",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(h.ingester.Stats())) })
	}
	return []prometheus.Collector{
		stat("stored_total", "Messages stored.", func(s ingest.Stats) int64 { return s.Stored }),
		stat("duplicate_total", "Messages dropped as duplicates.", func(s ingest.Stats) int64 { return s.Duplicate }),
		stat("invalid_total", "Messages dropped for lacking a conversation id.", func(s ingest.Stats) int64 { return s.Invalid }),
		stat("failed_total", "Messages dropped after a store failure.", func(s ingest.Stats) int64 { return s.Failed }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wppmon",
			Name:      "connected",
			Help:      "1 when the chat transport is connected (or simulated), 0 otherwise.",
		}, func() float64 {
			if h.controller.Status().IsReady {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wppmon",
			Name:      "retained_messages",
			Help:      "Messages currently retained in the store.",
		}, func() float64 { return float64(h.store.CountMessages()) }),
	}
}
