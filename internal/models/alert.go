package models

import "time"

// Severity classifies an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityWarning || s == SeverityInfo
}

// AlertEntry is the presentation form of an alert, persistent or derived.
type AlertEntry struct {
	ID             string   `json:"id"`
	Severity       Severity `json:"type"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	TimestampLabel string   `json:"timestamp"`
	Source         string   `json:"source"`
	Acknowledged   bool     `json:"acknowledged"`
	Derived        bool     `json:"derived"`
}

// Alert is a persistent, user-manageable alert.
// Position keeps insertion order stable across acknowledgements.
type Alert struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id" yaml:"id"`
	Position       int64     `gorm:"index;not null" json:"-" yaml:"-"`
	Severity       Severity  `gorm:"size:16;not null" json:"type" yaml:"type"`
	Title          string    `gorm:"not null" json:"title" yaml:"title"`
	Description    string    `gorm:"type:text" json:"description" yaml:"description"`
	TimestampLabel string    `json:"timestamp" yaml:"timestamp"`
	Source         string    `json:"source" yaml:"source"`
	Acknowledged   bool      `gorm:"default:false" json:"acknowledged" yaml:"acknowledged"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

// Entry converts a persistent alert to its presentation form.
func (a Alert) Entry() AlertEntry {
	return AlertEntry{
		ID:             a.ID,
		Severity:       a.Severity,
		Title:          a.Title,
		Description:    a.Description,
		TimestampLabel: a.TimestampLabel,
		Source:         a.Source,
		Acknowledged:   a.Acknowledged,
	}
}

// DerivedAck records that a derived alert identifier has been acknowledged.
// It is dropped once the condition behind the identifier clears.
type DerivedAck struct {
	AlertID   string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
}
