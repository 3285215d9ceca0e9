package fieldsync

import (
	"encoding/base64"
	"strings"
)

const (
	maxComponentCodeLength = 64
	maxFileNameLength      = 320
	maxTitleLength         = 320
	maxConditionRating     = 5
)

func validSeverity(value string) bool {
	switch value {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validPriority(value string) bool {
	switch value {
	case PriorityImmediate, PriorityShortTerm, PriorityMediumTerm, PriorityLongTerm:
		return true
	}
	return false
}

func validStatus(value string) bool {
	switch value {
	case StatusOpen, StatusInProgress, StatusResolved, StatusDeferred:
		return true
	}
	return false
}

// AssessmentEnvelopeConfig describes the raw inputs of an offline assessment write.
type AssessmentEnvelopeConfig struct {
	OfflineID           string
	ProjectID           int64
	CreatedAtSeconds    int64
	ComponentCode       string
	ConditionRating     int
	Observations        string
	Recommendations     string
	EstimatedRepairCost float64
	ReplacementValue    float64
	ActionYear          int
}

// AssessmentEnvelope is a validated offline assessment write.
type AssessmentEnvelope struct {
	offlineID           OfflineID
	projectID           ProjectID
	createdAt           UnixTimestamp
	componentCode       string
	conditionRating     int
	observations        string
	recommendations     string
	estimatedRepairCost float64
	replacementValue    float64
	actionYear          int
}

// NewAssessmentEnvelope validates the configuration and returns an envelope.
// Failures are reported as a ValidationError naming every offending field.
func NewAssessmentEnvelope(cfg AssessmentEnvelopeConfig) (AssessmentEnvelope, error) {
	var invalid []string

	offlineID, err := NewOfflineID(cfg.OfflineID)
	if err != nil {
		invalid = append(invalid, "offline_id")
	}
	projectID, err := NewProjectID(cfg.ProjectID)
	if err != nil {
		invalid = append(invalid, "project_id")
	}
	createdAt, err := NewUnixTimestamp(cfg.CreatedAtSeconds)
	if err != nil {
		invalid = append(invalid, "created_at_s")
	}

	componentCode := strings.TrimSpace(cfg.ComponentCode)
	if len(componentCode) > maxComponentCodeLength {
		invalid = append(invalid, "component_code")
	}
	if cfg.ConditionRating < 0 || cfg.ConditionRating > maxConditionRating {
		invalid = append(invalid, "condition_rating")
	}
	if cfg.EstimatedRepairCost < 0 {
		invalid = append(invalid, "estimated_repair_cost")
	}
	if cfg.ReplacementValue < 0 {
		invalid = append(invalid, "replacement_value")
	}
	if cfg.ActionYear < 0 {
		invalid = append(invalid, "action_year")
	}

	if len(invalid) > 0 {
		return AssessmentEnvelope{}, &ValidationError{Fields: invalid}
	}

	return AssessmentEnvelope{
		offlineID:           offlineID,
		projectID:           projectID,
		createdAt:           createdAt,
		componentCode:       componentCode,
		conditionRating:     cfg.ConditionRating,
		observations:        strings.TrimSpace(cfg.Observations),
		recommendations:     strings.TrimSpace(cfg.Recommendations),
		estimatedRepairCost: cfg.EstimatedRepairCost,
		replacementValue:    cfg.ReplacementValue,
		actionYear:          cfg.ActionYear,
	}, nil
}

// OfflineID returns the client-side identifier.
func (e AssessmentEnvelope) OfflineID() OfflineID { return e.offlineID }

// ProjectID returns the parent project identifier.
func (e AssessmentEnvelope) ProjectID() ProjectID { return e.projectID }

// CreatedAt returns the offline capture timestamp.
func (e AssessmentEnvelope) CreatedAt() UnixTimestamp { return e.createdAt }

// ComponentCode returns the optional component code forming the natural key.
func (e AssessmentEnvelope) ComponentCode() string { return e.componentCode }

// HasNaturalKey reports whether the envelope targets a component-scoped record.
func (e AssessmentEnvelope) HasNaturalKey() bool { return e.componentCode != "" }

// ConditionRating returns the captured condition rating.
func (e AssessmentEnvelope) ConditionRating() int { return e.conditionRating }

// Observations returns the narrative observations.
func (e AssessmentEnvelope) Observations() string { return e.observations }

// Recommendations returns the narrative recommendations.
func (e AssessmentEnvelope) Recommendations() string { return e.recommendations }

// EstimatedRepairCost returns the captured repair cost estimate.
func (e AssessmentEnvelope) EstimatedRepairCost() float64 { return e.estimatedRepairCost }

// ReplacementValue returns the captured replacement value.
func (e AssessmentEnvelope) ReplacementValue() float64 { return e.replacementValue }

// ActionYear returns the scheduled action year.
func (e AssessmentEnvelope) ActionYear() int { return e.actionYear }

// PhotoEnvelopeConfig describes the raw inputs of an offline photo write. The
// binary payload travels base64-encoded inside the envelope; there is no
// separate multipart channel.
type PhotoEnvelopeConfig struct {
	OfflineID        string
	ProjectID        int64
	CreatedAtSeconds int64
	FileName         string
	DataBase64       string
	ContentType      string
	Caption          string
	AssessmentID     string
	AssetID          string
	Latitude         float64
	Longitude        float64
	GPSAccuracy      float64
	OCRText          string
}

// PhotoEnvelope is a validated offline photo write with its decoded payload.
type PhotoEnvelope struct {
	offlineID    OfflineID
	projectID    ProjectID
	createdAt    UnixTimestamp
	fileName     string
	data         []byte
	contentType  string
	caption      string
	assessmentID string
	assetID      string
	latitude     float64
	longitude    float64
	gpsAccuracy  float64
	ocrText      string
}

// NewPhotoEnvelope validates the configuration, decodes the payload, and
// returns an envelope.
func NewPhotoEnvelope(cfg PhotoEnvelopeConfig) (PhotoEnvelope, error) {
	var invalid []string

	offlineID, err := NewOfflineID(cfg.OfflineID)
	if err != nil {
		invalid = append(invalid, "offline_id")
	}
	projectID, err := NewProjectID(cfg.ProjectID)
	if err != nil {
		invalid = append(invalid, "project_id")
	}
	createdAt, err := NewUnixTimestamp(cfg.CreatedAtSeconds)
	if err != nil {
		invalid = append(invalid, "created_at_s")
	}

	fileName := strings.TrimSpace(cfg.FileName)
	if fileName == "" || len(fileName) > maxFileNameLength || strings.ContainsAny(fileName, "/\\") {
		invalid = append(invalid, "file_name")
	}

	var data []byte
	trimmedPayload := strings.TrimSpace(cfg.DataBase64)
	if trimmedPayload == "" {
		invalid = append(invalid, "data_b64")
	} else if data, err = base64.StdEncoding.DecodeString(trimmedPayload); err != nil || len(data) == 0 {
		invalid = append(invalid, "data_b64")
	}

	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		invalid = append(invalid, "latitude")
	}
	if cfg.Longitude < -180 || cfg.Longitude > 180 {
		invalid = append(invalid, "longitude")
	}
	if cfg.GPSAccuracy < 0 {
		invalid = append(invalid, "gps_accuracy")
	}

	if len(invalid) > 0 {
		return PhotoEnvelope{}, &ValidationError{Fields: invalid}
	}

	contentType := strings.TrimSpace(cfg.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return PhotoEnvelope{
		offlineID:    offlineID,
		projectID:    projectID,
		createdAt:    createdAt,
		fileName:     fileName,
		data:         data,
		contentType:  contentType,
		caption:      strings.TrimSpace(cfg.Caption),
		assessmentID: strings.TrimSpace(cfg.AssessmentID),
		assetID:      strings.TrimSpace(cfg.AssetID),
		latitude:     cfg.Latitude,
		longitude:    cfg.Longitude,
		gpsAccuracy:  cfg.GPSAccuracy,
		ocrText:      cfg.OCRText,
	}, nil
}

// OfflineID returns the client-side identifier.
func (e PhotoEnvelope) OfflineID() OfflineID { return e.offlineID }

// ProjectID returns the parent project identifier.
func (e PhotoEnvelope) ProjectID() ProjectID { return e.projectID }

// CreatedAt returns the offline capture timestamp.
func (e PhotoEnvelope) CreatedAt() UnixTimestamp { return e.createdAt }

// FileName returns the client-supplied file name.
func (e PhotoEnvelope) FileName() string { return e.fileName }

// Data returns the decoded binary payload.
func (e PhotoEnvelope) Data() []byte { return e.data }

// ContentType returns the payload content type.
func (e PhotoEnvelope) ContentType() string { return e.contentType }

// Caption returns the photo caption.
func (e PhotoEnvelope) Caption() string { return e.caption }

// AssessmentID returns the optional linked assessment identifier.
func (e PhotoEnvelope) AssessmentID() string { return e.assessmentID }

// AssetID returns the optional linked asset identifier.
func (e PhotoEnvelope) AssetID() string { return e.assetID }

// Latitude returns the capture latitude.
func (e PhotoEnvelope) Latitude() float64 { return e.latitude }

// Longitude returns the capture longitude.
func (e PhotoEnvelope) Longitude() float64 { return e.longitude }

// GPSAccuracy returns the reported GPS accuracy in meters.
func (e PhotoEnvelope) GPSAccuracy() float64 { return e.gpsAccuracy }

// OCRText returns text extracted from the photo on the client.
func (e PhotoEnvelope) OCRText() string { return e.ocrText }

// DeficiencyEnvelopeConfig describes the raw inputs of an offline deficiency write.
type DeficiencyEnvelopeConfig struct {
	OfflineID        string
	ProjectID        int64
	CreatedAtSeconds int64
	AssessmentID     string
	ComponentCode    string
	Title            string
	Description      string
	Severity         string
	Priority         string
	Status           string
	EstimatedCost    float64
}

// DeficiencyEnvelope is a validated offline deficiency write with sentinel
// defaults applied for omitted fields.
type DeficiencyEnvelope struct {
	offlineID     OfflineID
	projectID     ProjectID
	createdAt     UnixTimestamp
	assessmentID  string
	componentCode string
	title         string
	description   string
	severity      string
	priority      string
	status        string
	estimatedCost float64
}

// NewDeficiencyEnvelope validates the configuration and returns an envelope.
// Omitted component code, title, severity, priority, and status fall back to
// sentinels so incomplete offline capture still produces queryable rows.
func NewDeficiencyEnvelope(cfg DeficiencyEnvelopeConfig) (DeficiencyEnvelope, error) {
	var invalid []string

	offlineID, err := NewOfflineID(cfg.OfflineID)
	if err != nil {
		invalid = append(invalid, "offline_id")
	}
	projectID, err := NewProjectID(cfg.ProjectID)
	if err != nil {
		invalid = append(invalid, "project_id")
	}
	createdAt, err := NewUnixTimestamp(cfg.CreatedAtSeconds)
	if err != nil {
		invalid = append(invalid, "created_at_s")
	}

	componentCode := strings.TrimSpace(cfg.ComponentCode)
	if componentCode == "" {
		componentCode = DefaultComponentCode
	} else if len(componentCode) > maxComponentCodeLength {
		invalid = append(invalid, "component_code")
	}

	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = DefaultDeficiencyTitle
	} else if len(title) > maxTitleLength {
		invalid = append(invalid, "title")
	}

	severity := strings.ToLower(strings.TrimSpace(cfg.Severity))
	if severity == "" {
		severity = SeverityMedium
	} else if !validSeverity(severity) {
		invalid = append(invalid, "severity")
	}

	priority := strings.ToLower(strings.TrimSpace(cfg.Priority))
	if priority == "" {
		priority = PriorityMediumTerm
	} else if !validPriority(priority) {
		invalid = append(invalid, "priority")
	}

	status := strings.ToLower(strings.TrimSpace(cfg.Status))
	if status == "" {
		status = StatusOpen
	} else if !validStatus(status) {
		invalid = append(invalid, "status")
	}

	if cfg.EstimatedCost < 0 {
		invalid = append(invalid, "estimated_cost")
	}

	if len(invalid) > 0 {
		return DeficiencyEnvelope{}, &ValidationError{Fields: invalid}
	}

	return DeficiencyEnvelope{
		offlineID:     offlineID,
		projectID:     projectID,
		createdAt:     createdAt,
		assessmentID:  strings.TrimSpace(cfg.AssessmentID),
		componentCode: componentCode,
		title:         title,
		description:   strings.TrimSpace(cfg.Description),
		severity:      severity,
		priority:      priority,
		status:        status,
		estimatedCost: cfg.EstimatedCost,
	}, nil
}

// OfflineID returns the client-side identifier.
func (e DeficiencyEnvelope) OfflineID() OfflineID { return e.offlineID }

// ProjectID returns the parent project identifier.
func (e DeficiencyEnvelope) ProjectID() ProjectID { return e.projectID }

// CreatedAt returns the offline capture timestamp.
func (e DeficiencyEnvelope) CreatedAt() UnixTimestamp { return e.createdAt }

// AssessmentID returns the optional linked assessment identifier.
func (e DeficiencyEnvelope) AssessmentID() string { return e.assessmentID }

// ComponentCode returns the component code, defaulted when omitted.
func (e DeficiencyEnvelope) ComponentCode() string { return e.componentCode }

// Title returns the deficiency title, defaulted when omitted.
func (e DeficiencyEnvelope) Title() string { return e.title }

// Description returns the free-text description.
func (e DeficiencyEnvelope) Description() string { return e.description }

// Severity returns the severity, defaulted when omitted.
func (e DeficiencyEnvelope) Severity() string { return e.severity }

// Priority returns the priority horizon, defaulted when omitted.
func (e DeficiencyEnvelope) Priority() string { return e.priority }

// Status returns the workflow status, defaulted when omitted.
func (e DeficiencyEnvelope) Status() string { return e.status }

// EstimatedCost returns the captured cost estimate.
func (e DeficiencyEnvelope) EstimatedCost() float64 { return e.estimatedCost }
