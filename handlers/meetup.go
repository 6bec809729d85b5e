package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const meetupColumns = `m.id, m.title, m.description, m.organizer_id, u.name, m.category, m.date,
	m.venue, m.city, m.max_attendees, m.is_public, m.requires_approval, m.is_active, m.created_at,
	(SELECT COUNT(*) FROM meetup_attendees a WHERE a.meetup_id = m.id AND a.status <> 'declined') AS attending`

type MeetupHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMeetupHandler(db *sql.DB, logger *zap.Logger) *MeetupHandler {
	return &MeetupHandler{db: db, logger: logger}
}

func scanMeetup(row rowScanner, m *models.Meetup) error {
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.OrganizerID, &m.OrganizerName,
		&m.Category, &m.Date, &m.Venue, &m.City, &m.MaxAttendees, &m.IsPublic,
		&m.RequiresApproval, &m.IsActive, &m.CreatedAt, &m.Attending); err != nil {
		return err
	}
	m.AvailableSpots = m.MaxAttendees - m.Attending
	return nil
}

func (h *MeetupHandler) GetMeetups(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetMeetups")
	defer span.End()

	where := "WHERE m.is_active = TRUE AND m.is_public = TRUE"
	args := []any{}
	argPos := 1

	if category := c.Query("category"); category != "" {
		where += fmt.Sprintf(" AND m.category = $%d", argPos)
		args = append(args, category)
		argPos++
	}
	if search := c.Query("search"); search != "" {
		where += fmt.Sprintf(" AND (m.title ILIKE $%d OR m.description ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+search+"%")
		argPos++
	}
	if c.Query("upcoming") == "true" {
		where += " AND m.date > CURRENT_TIMESTAMP"
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM meetups m " + where
	if err := h.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count meetups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	page, limit, offset := pageParams(c)
	query := fmt.Sprintf(`SELECT %s FROM meetups m JOIN users u ON u.id = m.organizer_id
		%s ORDER BY m.date ASC LIMIT $%d OFFSET $%d`,
		meetupColumns, where, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch meetups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	meetups := []models.Meetup{}
	for rows.Next() {
		var m models.Meetup
		if err := scanMeetup(rows, &m); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan meetup", zap.Error(err))
			continue
		}
		meetups = append(meetups, m)
	}

	span.SetAttributes(attribute.Int("meetups.count", len(meetups)))
	c.JSON(http.StatusOK, gin.H{
		"meetups":     meetups,
		"total":       total,
		"totalPages":  totalPages(total, limit),
		"currentPage": page,
	})
}

func (h *MeetupHandler) GetMeetup(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetMeetup")
	defer span.End()

	meetupID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid meetup ID"})
		return
	}
	span.SetAttributes(attribute.Int("meetup.id", meetupID))

	var meetup models.Meetup
	err = scanMeetup(h.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM meetups m JOIN users u ON u.id = m.organizer_id
		WHERE m.id = $1 AND m.is_active = TRUE`, meetupColumns),
		meetupID), &meetup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meetup not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch meetup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, meetup)
}

func (h *MeetupHandler) CreateMeetup(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateMeetup")
	defer span.End()

	var req models.CreateMeetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.IsMeetupCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid meetup category"})
		return
	}
	if req.Date.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Meetup date must be in the future"})
		return
	}

	userID := middleware.UserID(c)
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	var meetup models.Meetup
	err := h.db.QueryRowContext(ctx,
		`INSERT INTO meetups (title, description, organizer_id, category, date, venue, city, max_attendees, is_public, requires_approval)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, title, description, organizer_id, category, date, venue, city, max_attendees, is_public, requires_approval, is_active, created_at`,
		req.Title, req.Description, userID, req.Category, req.Date,
		req.Venue, req.City, req.MaxAttendees, isPublic, req.RequiresApproval,
	).Scan(&meetup.ID, &meetup.Title, &meetup.Description, &meetup.OrganizerID,
		&meetup.Category, &meetup.Date, &meetup.Venue, &meetup.City, &meetup.MaxAttendees,
		&meetup.IsPublic, &meetup.RequiresApproval, &meetup.IsActive, &meetup.CreatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create meetup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	meetup.AvailableSpots = meetup.MaxAttendees

	h.logger.Info("Meetup created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("meetup_id", meetup.ID),
		zap.Int("organizer_id", userID),
	)
	c.JSON(http.StatusCreated, meetup)
}

// Join claims a spot on a meetup. When the meetup requires approval the
// attendee starts in the "maybe" state until the organizer confirms.
func (h *MeetupHandler) Join(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "JoinMeetup")
	defer span.End()

	meetupID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid meetup ID"})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("meetup.id", meetupID), attribute.Int("user.id", userID))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var (
		maxAttendees     int
		date             time.Time
		requiresApproval bool
		isActive         bool
	)
	err = tx.QueryRowContext(ctx,
		"SELECT max_attendees, date, requires_approval, is_active FROM meetups WHERE id = $1 FOR UPDATE",
		meetupID).Scan(&maxAttendees, &date, &requiresApproval, &isActive)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !isActive) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meetup not found"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch meetup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if date.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Meetup has already started"})
		return
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM meetup_attendees WHERE meetup_id = $1 AND user_id = $2",
		meetupID, userID).Scan(&existing)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check attendance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Already joined this meetup"})
		return
	}

	var attending int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM meetup_attendees WHERE meetup_id = $1 AND status <> 'declined'",
		meetupID).Scan(&attending)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count attendees", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if attending >= maxAttendees {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Meetup is full"})
		return
	}

	status := models.AttendeeJoined
	if requiresApproval {
		status = models.AttendeeMaybe
	}

	var attendee models.MeetupAttendee
	err = tx.QueryRowContext(ctx,
		`INSERT INTO meetup_attendees (meetup_id, user_id, status) VALUES ($1, $2, $3)
		RETURNING id, meetup_id, user_id, status, joined_at`,
		meetupID, userID, status,
	).Scan(&attendee.ID, &attendee.MeetupID, &attendee.UserID, &attendee.Status, &attendee.JoinedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to join meetup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit join", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	middleware.RecordRegistration("meetup", "join")
	h.logger.Info("Meetup joined",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("meetup_id", meetupID),
		zap.Int("user_id", userID),
	)
	c.JSON(http.StatusCreated, attendee)
}

// Leave removes the attendee row. Unlike event registrations there is no
// cutoff window for leaving a meetup.
func (h *MeetupHandler) Leave(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "LeaveMeetup")
	defer span.End()

	meetupID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid meetup ID"})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("meetup.id", meetupID), attribute.Int("user.id", userID))

	result, err := h.db.ExecContext(ctx,
		"DELETE FROM meetup_attendees WHERE meetup_id = $1 AND user_id = $2",
		meetupID, userID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to leave meetup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	affected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to read result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if affected == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Not attending this meetup"})
		return
	}

	middleware.RecordRegistration("meetup", "leave")
	h.logger.Info("Meetup left",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("meetup_id", meetupID),
		zap.Int("user_id", userID),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Left meetup"})
}
