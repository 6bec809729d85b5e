package models

import "time"

type AttendeeStatus string

const (
	AttendeeJoined   AttendeeStatus = "joined"
	AttendeeMaybe    AttendeeStatus = "maybe"
	AttendeeDeclined AttendeeStatus = "declined"
)

var MeetupCategories = []string{"business", "networking", "creative", "educational", "social"}

func IsMeetupCategory(c string) bool {
	for _, v := range MeetupCategories {
		if v == c {
			return true
		}
	}
	return false
}

type Meetup struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	OrganizerID      int       `json:"organizer_id"`
	OrganizerName    string    `json:"organizer_name,omitempty"`
	Category         string    `json:"category"`
	Date             time.Time `json:"date"`
	Venue            string    `json:"venue,omitempty"`
	City             string    `json:"city,omitempty"`
	MaxAttendees     int       `json:"max_attendees"`
	IsPublic         bool      `json:"is_public"`
	RequiresApproval bool      `json:"requires_approval"`
	IsActive         bool      `json:"is_active"`
	Attending        int       `json:"attending"`       // count of active attendees
	AvailableSpots   int       `json:"available_spots"` // max attendees minus active attendees
	CreatedAt        time.Time `json:"created_at"`
}

type MeetupAttendee struct {
	ID       int            `json:"id"`
	MeetupID int            `json:"meetup_id"`
	UserID   int            `json:"user_id"`
	Status   AttendeeStatus `json:"status"`
	JoinedAt time.Time      `json:"joined_at"`
}

type CreateMeetupRequest struct {
	Title            string    `json:"title" binding:"required,min=3"`
	Description      string    `json:"description" binding:"required,min=10"`
	Category         string    `json:"category" binding:"required"`
	Date             time.Time `json:"date" binding:"required"`
	Venue            string    `json:"venue"`
	City             string    `json:"city"`
	MaxAttendees     int       `json:"max_attendees" binding:"required,gte=2"`
	IsPublic         *bool     `json:"is_public"`
	RequiresApproval bool      `json:"requires_approval"`
}
