package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Disaster struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Severity    Severity  `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

func (d Disaster) Timestamp() time.Time { return d.CreatedAt }

// ReportStatus is the internal moderation state of a field report.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportVerified ReportStatus = "verified"
	ReportRejected ReportStatus = "rejected"
)

type Report struct {
	ID          string       `json:"id"`
	DisasterID  string       `json:"disaster_id"`
	Description string       `json:"description"`
	ImageURL    string       `json:"image_url,omitempty"`
	Location    string       `json:"location,omitempty"`
	Status      ReportStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (r Report) Timestamp() time.Time { return r.CreatedAt }
