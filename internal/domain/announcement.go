package domain

import "time"

// AnnouncementKind distinguishes the morning post from the evening reminder.
type AnnouncementKind string

const (
	MorningAnnouncement AnnouncementKind = "am"
	EveningAnnouncement AnnouncementKind = "pm"
)

// Announcement is the message handed to the chat integration for one village.
type Announcement struct {
	Kind        AnnouncementKind `json:"kind"`
	Village     Village          `json:"village"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Banner      string           `json:"banner,omitempty"`
	Weather     Record           `json:"weather"`
	PublishedAt time.Time        `json:"published_at"`
}
