package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// BatchStatus represents the lifecycle state of a generation batch.
// Values include BatchStatusCreated, BatchStatusGenerating, and BatchStatusCompleted.
type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "created"
	BatchStatusGenerating BatchStatus = "generating"
	BatchStatusCompleted  BatchStatus = "completed"
)

// Platform is the target platform for generated scripts.
type Platform string

const (
	PlatformTikTok         Platform = "tiktok"
	PlatformInstagramReels Platform = "instagram_reels"
	PlatformYouTubeShorts  Platform = "youtube_shorts"
	PlatformFacebook       Platform = "facebook"
)

// QualityTier selects the generation quality level for a batch.
type QualityTier string

const (
	QualityTierDraft    QualityTier = "draft"
	QualityTierStandard QualityTier = "standard"
	QualityTierPremium  QualityTier = "premium"
)

// MaxBatchScripts is the upper bound on the number of scripts in one batch.
const MaxBatchScripts = 200

// allowedDurations is the closed set of valid script durations in seconds.
var allowedDurations = map[int]bool{15: true, 30: true, 45: true, 60: true}

// allowedPlatforms is the closed set of valid target platforms.
var allowedPlatforms = map[Platform]bool{
	PlatformTikTok:         true,
	PlatformInstagramReels: true,
	PlatformYouTubeShorts:  true,
	PlatformFacebook:       true,
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// IntArray is a custom type for storing integer arrays as JSON in the database.
type IntArray []int

// Value implements the driver.Valuer interface for database serialization.
func (a IntArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *IntArray) Scan(value interface{}) error {
	if value == nil {
		*a = IntArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan IntArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// BatchConfig holds the user-supplied configuration for a generation batch.
type BatchConfig struct {
	RequestedCount int         `json:"requested_count"`
	Platform       Platform    `json:"platform"`
	Angles         StringArray `gorm:"type:text" json:"angles"`
	Durations      IntArray    `gorm:"type:text" json:"durations"`
	PersonaID      string      `gorm:"type:text" json:"persona_id,omitempty"`
	QualityTier    QualityTier `gorm:"type:text;default:standard" json:"quality_tier"`
}

// Validate checks the configuration against the closed enumerations and
// count bounds. All violations are reported as ErrInvalidConfiguration.
func (c *BatchConfig) Validate() error {
	if c.RequestedCount < 1 || c.RequestedCount > MaxBatchScripts {
		return fmt.Errorf("%w: requested_count must be between 1 and %d, got %d",
			ErrInvalidConfiguration, MaxBatchScripts, c.RequestedCount)
	}
	if !allowedPlatforms[c.Platform] {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidConfiguration, c.Platform)
	}
	if len(c.Angles) == 0 {
		return fmt.Errorf("%w: at least one angle is required", ErrInvalidConfiguration)
	}
	for _, a := range c.Angles {
		if a == "" {
			return fmt.Errorf("%w: angle tags must be non-empty", ErrInvalidConfiguration)
		}
	}
	if len(c.Durations) == 0 {
		return fmt.Errorf("%w: at least one duration is required", ErrInvalidConfiguration)
	}
	for _, d := range c.Durations {
		if !allowedDurations[d] {
			return fmt.Errorf("%w: duration %d is not supported", ErrInvalidConfiguration, d)
		}
	}
	if c.QualityTier != "" &&
		c.QualityTier != QualityTierDraft &&
		c.QualityTier != QualityTierStandard &&
		c.QualityTier != QualityTierPremium {
		return fmt.Errorf("%w: unknown quality tier %q", ErrInvalidConfiguration, c.QualityTier)
	}
	return nil
}

// ExpandUnits deterministically expands the configuration into (angle, duration)
// pairs: angles sorted lexicographically, durations ascending, full Cartesian
// product, then cycled or truncated to exactly RequestedCount elements.
func (c *BatchConfig) ExpandUnits() []UnitSpec {
	angles := make([]string, len(c.Angles))
	copy(angles, c.Angles)
	sort.Strings(angles)

	durations := make([]int, len(c.Durations))
	copy(durations, c.Durations)
	sort.Ints(durations)

	pairs := make([]UnitSpec, 0, len(angles)*len(durations))
	for _, a := range angles {
		for _, d := range durations {
			pairs = append(pairs, UnitSpec{Angle: a, DurationSec: d})
		}
	}

	units := make([]UnitSpec, c.RequestedCount)
	for i := range units {
		units[i] = pairs[i%len(pairs)]
	}
	return units
}

// UnitSpec is one expanded (angle, duration) combination of a batch configuration.
type UnitSpec struct {
	Angle       string
	DurationSec int
}

// BatchCounters is an immutable snapshot of a batch's aggregate counters.
// Invariant: Completed+Failed+Generating <= Total, with equality of
// Completed+Failed and Total exactly at terminal state.
type BatchCounters struct {
	Total      int `json:"total"`
	Generating int `json:"generating"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Progress returns the terminal ratio (completed+failed)/total clamped to [0,1].
func (c BatchCounters) Progress() float64 {
	if c.Total <= 0 {
		return 0
	}
	p := float64(c.Completed+c.Failed) / float64(c.Total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Terminal reports whether every unit has reached a terminal status.
func (c BatchCounters) Terminal() bool {
	return c.Completed+c.Failed == c.Total
}

// Batch represents one user-initiated generation batch and its aggregate state.
type Batch struct {
	ID        string      `gorm:"type:text;primaryKey" json:"id"`
	ProjectID string      `gorm:"type:text;not null;index" json:"project_id"`
	Status    BatchStatus `gorm:"type:text;default:created" json:"status"`

	BatchConfig `gorm:"embedded" json:"config"`

	TotalScripts     int `gorm:"default:0" json:"total_scripts"`
	CompletedScripts int `gorm:"default:0" json:"completed_scripts"`
	FailedScripts    int `gorm:"default:0" json:"failed_scripts"`

	Scripts []Script `gorm:"foreignKey:BatchID" json:"scripts,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Batch.
func (Batch) TableName() string {
	return "batches"
}
