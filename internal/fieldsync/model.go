package fieldsync

import (
	"errors"
	"fmt"
	"strings"
)

// EntityKind enumerates the entity families the sync engine reconciles.
type EntityKind string

const (
	// EntityKindAssessment identifies condition assessment records.
	EntityKindAssessment EntityKind = "assessment"
	// EntityKindPhoto identifies binary photo attachments.
	EntityKindPhoto EntityKind = "photo"
	// EntityKindDeficiency identifies defect/action records.
	EntityKindDeficiency EntityKind = "deficiency"
)

// Resolution enumerates conflict resolver decisions.
type Resolution string

const (
	// ResolutionAccepted means the incoming write was applied as authoritative.
	ResolutionAccepted Resolution = "accepted"
	// ResolutionMerged means empty server fields were filled from the incoming write.
	ResolutionMerged Resolution = "merged"
	// ResolutionServerWins means the incoming write was discarded.
	ResolutionServerWins Resolution = "server_wins"
)

// ConflictPolicy selects how assessment conflicts are resolved.
type ConflictPolicy string

const (
	// PolicyServerWins discards offline writes older than the server record.
	PolicyServerWins ConflictPolicy = "server_wins"
	// PolicyFieldMerge fills empty server fields from older offline writes.
	PolicyFieldMerge ConflictPolicy = "field_merge"
)

// ParseConflictPolicy validates a configured policy name.
func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyServerWins:
		return PolicyServerWins, nil
	case PolicyFieldMerge:
		return PolicyFieldMerge, nil
	default:
		return "", fmt.Errorf("fieldsync: unknown conflict policy %q", value)
	}
}

const maxIdentifierLength = 190

var (
	// ErrInvalidOfflineID indicates a client-side identifier is empty or exceeds bounds.
	ErrInvalidOfflineID = errors.New("fieldsync: invalid offline id")
	// ErrInvalidProjectID indicates a project identifier is not positive.
	ErrInvalidProjectID = errors.New("fieldsync: invalid project id")
	// ErrInvalidTimestamp indicates a unix timestamp value is not positive.
	ErrInvalidTimestamp = errors.New("fieldsync: invalid unix timestamp")
)

// OfflineID is the opaque client-generated identifier echoed back after sync.
// It is never used as a storage key.
type OfflineID string

// NewOfflineID validates raw input and returns an OfflineID.
func NewOfflineID(rawInput string) (OfflineID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOfflineID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOfflineID, maxIdentifierLength)
	}
	return OfflineID(trimmed), nil
}

// String returns the underlying identifier.
func (id OfflineID) String() string {
	return string(id)
}

// ProjectID represents a validated project identifier.
type ProjectID int64

// NewProjectID validates the value and returns a ProjectID.
func NewProjectID(value int64) (ProjectID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidProjectID, value)
	}
	return ProjectID(value), nil
}

// Int64 exposes the raw identifier value.
func (id ProjectID) Int64() int64 {
	return int64(id)
}

// UnixTimestamp represents a validated unix timestamp in seconds.
type UnixTimestamp int64

// NewUnixTimestamp validates the value and returns a UnixTimestamp.
func NewUnixTimestamp(value int64) (UnixTimestamp, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return UnixTimestamp(value), nil
}

// Int64 exposes the raw unix seconds value.
func (ts UnixTimestamp) Int64() int64 {
	return int64(ts)
}

// Severity levels for deficiencies.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Priority horizons for deficiencies.
const (
	PriorityImmediate  = "immediate"
	PriorityShortTerm  = "short_term"
	PriorityMediumTerm = "medium_term"
	PriorityLongTerm   = "long_term"
)

// Status values for deficiencies.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusDeferred   = "deferred"
)

// Sentinel defaults applied when offline capture omitted a field, keeping
// every deficiency queryable.
const (
	DefaultComponentCode   = "UNKNOWN"
	DefaultDeficiencyTitle = "Untitled deficiency"
)

// Assessment is the current condition record for a project component.
// At most one live row exists per (project_id, component_code) natural key;
// prior values survive only as change records.
type Assessment struct {
	AssessmentID        string  `gorm:"column:assessment_id;primaryKey;size:190;not null"`
	ProjectID           int64   `gorm:"column:project_id;not null;index:idx_assessments_project_component,priority:1"`
	ComponentCode       string  `gorm:"column:component_code;size:64;not null;default:'';index:idx_assessments_project_component,priority:2"`
	ConditionRating     int     `gorm:"column:condition_rating;not null;default:0"`
	Observations        string  `gorm:"column:observations;type:text;not null;default:''"`
	Recommendations     string  `gorm:"column:recommendations;type:text;not null;default:''"`
	EstimatedRepairCost float64 `gorm:"column:estimated_repair_cost;not null;default:0"`
	ReplacementValue    float64 `gorm:"column:replacement_value;not null;default:0"`
	ActionYear          int     `gorm:"column:action_year;not null;default:0"`
	CapturedAtSeconds   int64   `gorm:"column:captured_at_s;not null"`
	UpdatedAtSeconds    int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Assessment) TableName() string {
	return "assessments"
}

// Photo is a binary attachment row. Photos carry no natural key: every sync
// inserts a new row and deduplication happens via sync receipts.
type Photo struct {
	PhotoID           string  `gorm:"column:photo_id;primaryKey;size:190;not null"`
	ProjectID         int64   `gorm:"column:project_id;not null;index"`
	AssessmentID      string  `gorm:"column:assessment_id;size:190;not null;default:''"`
	AssetID           string  `gorm:"column:asset_id;size:190;not null;default:''"`
	FileName          string  `gorm:"column:file_name;size:320;not null"`
	Caption           string  `gorm:"column:caption;size:512;not null;default:''"`
	StorageKey        string  `gorm:"column:storage_key;size:512;not null"`
	URL               string  `gorm:"column:url;size:1024;not null"`
	Latitude          float64 `gorm:"column:latitude;not null;default:0"`
	Longitude         float64 `gorm:"column:longitude;not null;default:0"`
	GPSAccuracy       float64 `gorm:"column:gps_accuracy;not null;default:0"`
	OCRText           string  `gorm:"column:ocr_text;type:text;not null;default:''"`
	CapturedAtSeconds int64   `gorm:"column:captured_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Photo) TableName() string {
	return "photos"
}

// Deficiency is a defect/action row created from offline capture.
type Deficiency struct {
	DeficiencyID      string  `gorm:"column:deficiency_id;primaryKey;size:190;not null"`
	ProjectID         int64   `gorm:"column:project_id;not null;index"`
	AssessmentID      string  `gorm:"column:assessment_id;size:190;not null;default:''"`
	ComponentCode     string  `gorm:"column:component_code;size:64;not null"`
	Title             string  `gorm:"column:title;size:320;not null"`
	Description       string  `gorm:"column:description;type:text;not null;default:''"`
	Severity          string  `gorm:"column:severity;size:32;not null"`
	Priority          string  `gorm:"column:priority;size:32;not null"`
	Status            string  `gorm:"column:status;size:32;not null"`
	EstimatedCost     float64 `gorm:"column:estimated_cost;not null;default:0"`
	CapturedAtSeconds int64   `gorm:"column:captured_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Deficiency) TableName() string {
	return "deficiencies"
}

// ChangeRecord captures an append-only audit trail entry for synced entities.
type ChangeRecord struct {
	ChangeID          string `gorm:"column:change_id;primaryKey;size:190;not null"`
	EntityKind        string `gorm:"column:entity_kind;size:32;not null;index:idx_changes_entity,priority:1"`
	EntityID          string `gorm:"column:entity_id;size:190;not null;index:idx_changes_entity,priority:2"`
	ProjectID         int64  `gorm:"column:project_id;not null;index"`
	ActorUserID       string `gorm:"column:actor_user_id;size:190;not null"`
	Created           bool   `gorm:"column:created;not null;default:false"`
	Resolution        string `gorm:"column:resolution;size:32;not null"`
	FieldsChangedJSON string `gorm:"column:fields_changed_json;type:text;not null;default:''"`
	AppliedAtSeconds  int64  `gorm:"column:applied_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeRecord) TableName() string {
	return "change_records"
}

// SyncReceipt absorbs retries of non-idempotent photo/deficiency syncs.
// A receipt is written in the same transaction as the entity insert; a replay
// of the same offline id inside the TTL returns the recorded entity instead
// of inserting a duplicate row.
type SyncReceipt struct {
	ProjectID        int64  `gorm:"column:project_id;primaryKey"`
	EntityKind       string `gorm:"column:entity_kind;primaryKey;size:32"`
	OfflineID        string `gorm:"column:offline_id;primaryKey;size:190"`
	EntityID         string `gorm:"column:entity_id;size:190;not null"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (SyncReceipt) TableName() string {
	return "sync_receipts"
}

// ValidationError reports the offending fields of a malformed envelope.
type ValidationError struct {
	Fields []string
}

// Error lists the invalid fields.
func (e *ValidationError) Error() string {
	return "fieldsync: invalid envelope: " + strings.Join(e.Fields, ", ")
}
