package models

import "time"

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationCancelled  RegistrationStatus = "cancelled"
)

var EventCategories = []string{"workshop", "seminar", "exhibition", "networking", "training"}

func IsEventCategory(c string) bool {
	for _, v := range EventCategories {
		if v == c {
			return true
		}
	}
	return false
}

type Event struct {
	ID             int        `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Date           time.Time  `json:"date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Venue          string     `json:"venue,omitempty"`
	City           string     `json:"city,omitempty"`
	Price          float64    `json:"price"`
	Capacity       int        `json:"capacity"`
	IsActive       bool       `json:"is_active"`
	Featured       bool       `json:"featured"`
	Registered     int        `json:"registered"`      // count of active registrations
	AvailableSpots int        `json:"available_spots"` // capacity minus active registrations
	CreatedAt      time.Time  `json:"created_at"`
}

type EventRegistration struct {
	ID            int                `json:"id"`
	EventID       int                `json:"event_id"`
	UserID        int                `json:"user_id"`
	Status        RegistrationStatus `json:"status"`
	PaymentStatus PaymentStatus      `json:"payment_status"`
	RegisteredAt  time.Time          `json:"registered_at"`
}

// RegistrationEvent is published to the event bus when a user claims a spot.
type RegistrationEvent struct {
	EventID   int     `json:"event_id"`
	UserID    int     `json:"user_id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	EventType string  `json:"event_type"` // event_registration
}

type CreateEventRequest struct {
	Title       string     `json:"title" binding:"required,min=3"`
	Description string     `json:"description" binding:"required,min=10"`
	Category    string     `json:"category" binding:"required"`
	Date        time.Time  `json:"date" binding:"required"`
	EndDate     *time.Time `json:"end_date"`
	Venue       string     `json:"venue"`
	City        string     `json:"city"`
	Price       float64    `json:"price" binding:"gte=0"`
	Capacity    int        `json:"capacity" binding:"required,gte=1"`
	Featured    bool       `json:"featured"`
}
