package booking

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/booking-api/internal/model"
	bookingService "github.com/jwalitptl/booking-api/internal/service/booking"
	"github.com/jwalitptl/booking-api/internal/service/otp"
	"github.com/jwalitptl/booking-api/pkg/auth"
)

type Handler struct {
	service  *bookingService.Service
	sessions auth.SessionService
}

func NewHandler(service *bookingService.Service, sessions auth.SessionService) *Handler {
	return &Handler{service: service, sessions: sessions}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/slots", h.GetAvailableSlots)

	bookings := rg.Group("/bookings")
	bookings.POST("", h.InitiateBooking)
	bookings.POST("/:id/code", h.RequestCode)
	bookings.POST("/:id/confirm", h.ConfirmWithCode)
	bookings.POST("/:id/cancel", h.CancelBooking)
}

type slotsRequest struct {
	TenantID        string `form:"tenant_id" binding:"required,uuid"`
	DoctorID        string `form:"doctor_id" binding:"omitempty,uuid"`
	Department      string `form:"department"`
	Date            string `form:"date" binding:"required,datetime=2006-01-02"`
	DurationMinutes int    `form:"duration_minutes" binding:"omitempty,min=5,max=240"`
}

func (h *Handler) GetAvailableSlots(c *gin.Context) {
	var req slotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	date, _ := time.ParseInLocation("2006-01-02", req.Date, time.Local)
	query := bookingService.SlotQuery{
		TenantID:   uuid.MustParse(req.TenantID),
		Department: req.Department,
		Date:       date,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
	}
	if req.DoctorID != "" {
		query.DoctorID = uuid.MustParse(req.DoctorID)
	}

	slots, err := h.service.GetAvailableSlots(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": slots})
}

type initiateRequest struct {
	TenantID        string    `json:"tenant_id" binding:"required,uuid"`
	DoctorID        string    `json:"doctor_id" binding:"required,uuid"`
	SlotStart       time.Time `json:"slot_start" binding:"required,futuredate"`
	DurationMinutes int       `json:"duration_minutes" binding:"omitempty,min=5,max=240"`
	ContactIdentity string    `json:"contact_identity" binding:"required,email"`
}

func (h *Handler) InitiateBooking(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	sessionID := uuid.NewString()
	draft, err := h.service.InitiateBooking(c.Request.Context(), bookingService.InitiateInput{
		TenantID:        uuid.MustParse(req.TenantID),
		DoctorID:        uuid.MustParse(req.DoctorID),
		SlotStart:       req.SlotStart,
		DurationMinutes: req.DurationMinutes,
		ContactIdentity: req.ContactIdentity,
	}, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.sessions.IssueToken(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": gin.H{
		"booking_id":    draft.BookingID,
		"state":         draft.State,
		"slot_start":    draft.SlotStart,
		"session_token": token,
	}})
}

func (h *Handler) RequestCode(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid booking ID"})
		return
	}

	draft, err := h.service.RequestCode(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{
		"booking_id": draft.BookingID,
		"state":      draft.State,
	}})
}

type confirmRequest struct {
	Code string `json:"code" binding:"required,numeric,min=4,max=10"`
}

func (h *Handler) ConfirmWithCode(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid booking ID"})
		return
	}

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	appointment, err := h.service.ConfirmWithCode(c.Request.Context(), bookingID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": appointment})
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *Handler) CancelBooking(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid booking ID"})
		return
	}

	sessionID, err := h.sessionFromHeader(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid session token"})
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if err := h.service.CancelBooking(c.Request.Context(), bookingID, sessionID, req.Reason); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{
		"booking_id": bookingID,
		"state":      model.BookingStateCancelled,
	}})
}

func (h *Handler) sessionFromHeader(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", auth.ErrInvalidToken
	}
	return h.sessions.SessionID(strings.TrimPrefix(header, "Bearer "))
}

// respondError maps engine errors to HTTP responses. Caller-facing
// rejections render directly; persistence failures surface as 503.
func respondError(c *gin.Context, err error) {
	var rateLimited *otp.RateLimitedError
	var invalidCode *otp.InvalidCodeError
	var stateErr *bookingService.StateError
	var persistence *bookingService.PersistenceError

	switch {
	case errors.Is(err, bookingService.ErrSlotUnavailable):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "code": "SLOT_UNAVAILABLE", "message": err.Error()})
	case errors.Is(err, bookingService.ErrSlotExpired):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "code": "SLOT_EXPIRED", "message": err.Error()})
	case errors.Is(err, bookingService.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "code": "BOOKING_NOT_FOUND", "message": err.Error()})
	case errors.Is(err, bookingService.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "code": "UNAUTHORIZED", "message": err.Error()})
	case errors.As(err, &rateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"status": "error", "code": "CODE_RATE_LIMITED", "message": err.Error(),
			"retry_after_seconds": int(rateLimited.RetryAfter.Seconds()),
		})
	case errors.As(err, &invalidCode):
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error", "code": "CODE_INVALID", "message": err.Error(),
			"remaining_attempts": invalidCode.RemainingAttempts,
		})
	case errors.Is(err, otp.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"status": "error", "code": "CODE_EXPIRED", "message": err.Error()})
	case errors.Is(err, otp.ErrAttemptsExceeded):
		c.JSON(http.StatusGone, gin.H{"status": "error", "code": "CODE_ATTEMPTS_EXCEEDED", "message": err.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "code": "WRONG_STATE", "message": err.Error()})
	case errors.As(err, &persistence):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "code": "TRANSIENT_FAILURE", "message": "temporary failure, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
	}
}
