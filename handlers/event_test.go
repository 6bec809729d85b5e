package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func setupEventTest(t *testing.T) (*EventHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewEventHandler(db, nil, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(asUser(1))
	router.POST("/events/:id/register", handler.Register)
	router.DELETE("/events/:id/register", handler.CancelRegistration)

	return handler, mock, router
}

func TestEventHandler_Register_Success(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	eventDate := time.Now().Add(72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT title, capacity, date, price, is_active FROM events").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"title", "capacity", "date", "price", "is_active"}).
			AddRow("Print Workshop", 50, eventDate, 0.0, true))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM event_registrations WHERE event_id = \\$1 AND user_id = \\$2").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM event_registrations WHERE event_id = \\$1 AND status").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery("INSERT INTO event_registrations").
		WithArgs(5, 1, "paid").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "user_id", "status", "payment_status", "registered_at"}).
			AddRow(1, 5, 1, "registered", "paid", time.Now()))
	mock.ExpectCommit()

	req := httptest.NewRequest("POST", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestEventHandler_Register_Full(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	eventDate := time.Now().Add(72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT title, capacity, date, price, is_active FROM events").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"title", "capacity", "date", "price", "is_active"}).
			AddRow("Print Workshop", 50, eventDate, 25.0, true))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM event_registrations WHERE event_id = \\$1 AND user_id = \\$2").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM event_registrations WHERE event_id = \\$1 AND status").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(50))
	mock.ExpectRollback()

	req := httptest.NewRequest("POST", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "Event is full" {
		t.Errorf("Unexpected error message: %q", resp["error"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestEventHandler_Register_AlreadyRegistered(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	eventDate := time.Now().Add(72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT title, capacity, date, price, is_active FROM events").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"title", "capacity", "date", "price", "is_active"}).
			AddRow("Print Workshop", 50, eventDate, 0.0, true))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM event_registrations WHERE event_id = \\$1 AND user_id = \\$2").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	req := httptest.NewRequest("POST", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestEventHandler_Register_PastEvent(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT title, capacity, date, price, is_active FROM events").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"title", "capacity", "date", "price", "is_active"}).
			AddRow("Print Workshop", 50, time.Now().Add(-time.Hour), 0.0, true))
	mock.ExpectRollback()

	req := httptest.NewRequest("POST", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestEventHandler_CancelRegistration_InsideCutoff(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	// 23 hours out, one hour inside the cutoff
	mock.ExpectQuery("SELECT e.date FROM events e").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(time.Now().Add(23 * time.Hour)))

	req := httptest.NewRequest("DELETE", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "Cannot cancel within 24 hours of the event" {
		t.Errorf("Unexpected error message: %q", resp["error"])
	}
}

func TestEventHandler_CancelRegistration_OutsideCutoff(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT e.date FROM events e").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(time.Now().Add(25 * time.Hour)))
	mock.ExpectExec("DELETE FROM event_registrations").
		WithArgs(5, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("DELETE", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestEventHandler_CancelRegistration_NotRegistered(t *testing.T) {
	handler, mock, router := setupEventTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT e.date FROM events e").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"date"}))

	req := httptest.NewRequest("DELETE", "/events/5/register", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
