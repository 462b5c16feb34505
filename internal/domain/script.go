package domain

import "time"

// ScriptStatus represents the generation state of a single script.
// A terminal status (succeeded or failed) is final; scripts are never
// retried automatically.
type ScriptStatus string

const (
	ScriptStatusPending    ScriptStatus = "pending"
	ScriptStatusGenerating ScriptStatus = "generating"
	ScriptStatusSucceeded  ScriptStatus = "succeeded"
	ScriptStatusFailed     ScriptStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ScriptStatus) Terminal() bool {
	return s == ScriptStatusSucceeded || s == ScriptStatusFailed
}

// ScriptContent is the structured output of one successful generation call.
type ScriptContent struct {
	Hook string `json:"hook"`
	Body string `json:"body"`
	CTA  string `json:"cta"`
}

// Script represents one generation unit within a batch: a single
// angle/duration/persona combination to produce one script draft for.
type Script struct {
	ID          string       `gorm:"type:text;primaryKey" json:"id"`
	BatchID     string       `gorm:"type:text;not null;index" json:"batch_id"`
	Angle       string       `gorm:"type:text;not null" json:"angle"`
	DurationSec int          `gorm:"not null" json:"duration_sec"`
	PersonaID   string       `gorm:"type:text" json:"persona_id,omitempty"`
	Status      ScriptStatus `gorm:"type:text;default:pending" json:"status"`

	Hook  string `gorm:"type:text" json:"hook,omitempty"`
	Body  string `gorm:"type:text" json:"body,omitempty"`
	CTA   string `gorm:"type:text" json:"cta,omitempty"`
	Error string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Script.
func (Script) TableName() string {
	return "scripts"
}
