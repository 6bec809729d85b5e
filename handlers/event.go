package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// cancellationWindow is the cutoff before an event's start after which
// registrations can no longer be cancelled.
const cancellationWindow = 24 * time.Hour

const eventColumns = `e.id, e.title, e.description, e.category, e.date, e.end_date, e.venue, e.city,
	e.price, e.capacity, e.is_active, e.featured, e.created_at,
	(SELECT COUNT(*) FROM event_registrations r WHERE r.event_id = e.id AND r.status <> 'cancelled') AS registered`

type EventHandler struct {
	db       *sql.DB
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func NewEventHandler(db *sql.DB, producer sarama.SyncProducer, logger *zap.Logger) *EventHandler {
	return &EventHandler{db: db, producer: producer, logger: logger}
}

func scanEvent(row rowScanner, e *models.Event) error {
	var endDate sql.NullTime
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.Date, &endDate,
		&e.Venue, &e.City, &e.Price, &e.Capacity, &e.IsActive, &e.Featured, &e.CreatedAt,
		&e.Registered); err != nil {
		return err
	}
	if endDate.Valid {
		e.EndDate = &endDate.Time
	}
	e.AvailableSpots = e.Capacity - e.Registered
	return nil
}

func (h *EventHandler) GetEvents(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetEvents")
	defer span.End()

	where := "WHERE e.is_active = TRUE"
	args := []any{}
	argPos := 1

	if category := c.Query("category"); category != "" {
		where += fmt.Sprintf(" AND e.category = $%d", argPos)
		args = append(args, category)
		argPos++
	}
	if search := c.Query("search"); search != "" {
		where += fmt.Sprintf(" AND (e.title ILIKE $%d OR e.description ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+search+"%")
		argPos++
	}
	if c.Query("upcoming") == "true" {
		where += " AND e.date > CURRENT_TIMESTAMP"
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM events e " + where
	if err := h.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	orderBy := sortClause(c, map[string]string{
		"date":  "e.date",
		"price": "e.price",
		"title": "e.title",
	}, "e.date", "asc")

	page, limit, offset := pageParams(c)
	query := fmt.Sprintf("SELECT %s FROM events e %s ORDER BY %s LIMIT $%d OFFSET $%d",
		eventColumns, where, orderBy, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var e models.Event
		if err := scanEvent(rows, &e); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan event", zap.Error(err))
			continue
		}
		events = append(events, e)
	}

	span.SetAttributes(attribute.Int("events.count", len(events)))
	c.JSON(http.StatusOK, gin.H{
		"events":      events,
		"total":       total,
		"totalPages":  totalPages(total, limit),
		"currentPage": page,
	})
}

func (h *EventHandler) GetEvent(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetEvent")
	defer span.End()

	eventID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event ID"})
		return
	}
	span.SetAttributes(attribute.Int("event.id", eventID))

	var event models.Event
	err = scanEvent(h.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM events e WHERE e.id = $1 AND e.is_active = TRUE", eventColumns),
		eventID), &event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, event)
}

func (h *EventHandler) CreateEvent(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateEvent")
	defer span.End()

	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.IsEventCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event category"})
		return
	}

	var event models.Event
	err := h.db.QueryRowContext(ctx,
		`INSERT INTO events (title, description, category, date, end_date, venue, city, price, capacity, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, title, description, category, date, end_date, venue, city, price, capacity, is_active, featured, created_at`,
		req.Title, req.Description, req.Category, req.Date, req.EndDate,
		req.Venue, req.City, req.Price, req.Capacity, req.Featured,
	).Scan(&event.ID, &event.Title, &event.Description, &event.Category, &event.Date,
		&event.EndDate, &event.Venue, &event.City, &event.Price, &event.Capacity,
		&event.IsActive, &event.Featured, &event.CreatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	event.AvailableSpots = event.Capacity

	h.logger.Info("Event created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("event_id", event.ID),
	)
	c.JSON(http.StatusCreated, event)
}

// Register claims a spot on an event. The event row is locked so the
// capacity check and the insert are atomic under concurrent requests.
func (h *EventHandler) Register(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "RegisterForEvent")
	defer span.End()

	eventID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event ID"})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("event.id", eventID), attribute.Int("user.id", userID))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var (
		title    string
		capacity int
		date     time.Time
		price    float64
		isActive bool
	)
	err = tx.QueryRowContext(ctx,
		"SELECT title, capacity, date, price, is_active FROM events WHERE id = $1 FOR UPDATE",
		eventID).Scan(&title, &capacity, &date, &price, &isActive)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !isActive) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if date.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Event has already started"})
		return
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_registrations WHERE event_id = $1 AND user_id = $2",
		eventID, userID).Scan(&existing)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Already registered for this event"})
		return
	}

	var registered int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_registrations WHERE event_id = $1 AND status <> 'cancelled'",
		eventID).Scan(&registered)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count registrations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if registered >= capacity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Event is full"})
		return
	}

	paymentStatus := models.PaymentStatusPending
	if price == 0 {
		paymentStatus = models.PaymentStatusPaid
	}

	var registration models.EventRegistration
	err = tx.QueryRowContext(ctx,
		`INSERT INTO event_registrations (event_id, user_id, payment_status) VALUES ($1, $2, $3)
		RETURNING id, event_id, user_id, status, payment_status, registered_at`,
		eventID, userID, paymentStatus,
	).Scan(&registration.ID, &registration.EventID, &registration.UserID,
		&registration.Status, &registration.PaymentStatus, &registration.RegisteredAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	middleware.RecordRegistration("event", "register")

	if h.producer != nil {
		event := models.RegistrationEvent{
			EventID:   eventID,
			UserID:    userID,
			Title:     title,
			Price:     price,
			EventType: "event_registration",
		}
		if err := kafka.PublishEvent(ctx, h.producer, kafka.Topic, event, h.logger); err != nil {
			h.logger.Error("Failed to publish registration event", zap.Error(err))
		}
	}

	h.logger.Info("Event registration created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("event_id", eventID),
		zap.Int("user_id", userID),
	)
	c.JSON(http.StatusCreated, registration)
}

// CancelRegistration frees the spot by deleting the registration row.
// Cancellation is rejected within 24 hours of the event start.
func (h *EventHandler) CancelRegistration(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CancelEventRegistration")
	defer span.End()

	eventID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event ID"})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("event.id", eventID), attribute.Int("user.id", userID))

	var date time.Time
	err = h.db.QueryRowContext(ctx,
		`SELECT e.date FROM events e
		JOIN event_registrations r ON r.event_id = e.id
		WHERE e.id = $1 AND r.user_id = $2`,
		eventID, userID).Scan(&date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Not registered for this event"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if time.Until(date) < cancellationWindow {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot cancel within 24 hours of the event"})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"DELETE FROM event_registrations WHERE event_id = $1 AND user_id = $2",
		eventID, userID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to cancel registration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	middleware.RecordRegistration("event", "cancel")
	h.logger.Info("Event registration cancelled",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("event_id", eventID),
		zap.Int("user_id", userID),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Registration cancelled"})
}
