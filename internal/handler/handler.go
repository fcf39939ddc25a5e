package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Handler serves the operational endpoints.
type Handler struct {
	db    *sqlx.DB
	redis *redis.Client
}

func NewHandler(db *sqlx.DB, redisClient *redis.Client) *Handler {
	return &Handler{db: db, redis: redisClient}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   time.Now(),
	})
}

// ReadinessCheck probes both backing stores. The engine cannot take
// bookings without either of them.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.db.PingContext(c.Request.Context()); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now(),
	})
}

func (h *Handler) MetricsHandler(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
