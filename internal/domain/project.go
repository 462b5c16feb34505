package domain

import "time"

// Project groups batches under one user workspace. Full project CRUD lives
// outside this service; the model exists for ownership and reporting.
type Project struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Product   string    `gorm:"type:text" json:"product,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Project.
func (Project) TableName() string {
	return "projects"
}

// Persona describes the voice a script should be written in.
type Persona struct {
	ID        string      `gorm:"type:text;primaryKey" json:"id"`
	ProjectID string      `gorm:"type:text;not null;index" json:"project_id"`
	Name      string      `gorm:"type:text;not null" json:"name"`
	Tone      string      `gorm:"type:text" json:"tone,omitempty"`
	Audience  StringArray `gorm:"type:text" json:"audience,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Persona.
func (Persona) TableName() string {
	return "personas"
}
