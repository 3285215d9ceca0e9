package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crestline/fieldsync/backend/internal/auth"
	"github.com/crestline/fieldsync/backend/internal/projects"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingGuard      = errors.New("ownership guard is required")
	errMissingBlobStore  = errors.New("blob store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// receiptTTL bounds how long a photo/deficiency replay is absorbed instead of
// creating a duplicate row.
const receiptTTL = 7 * 24 * time.Hour

// ServiceError carries a dotted operation/reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "fieldsync.service.new"
	opSyncAssessment = "fieldsync.sync_assessment"
	opSyncPhoto      = "fieldsync.sync_photo"
	opSyncDeficiency = "fieldsync.sync_deficiency"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// OwnershipGuard confirms the caller may write into a project's namespace.
// Every sync operation calls it before any mutation.
type OwnershipGuard interface {
	Authorize(ctx context.Context, identity auth.Identity, projectID int64) (projects.Project, error)
}

// BlobStore persists a binary payload and returns its retrieval URL.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// IDProvider issues durable entity identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// HistoryLogger appends change records inside the caller's transaction.
type HistoryLogger interface {
	Append(tx *gorm.DB, record *ChangeRecord) error
}

type gormHistoryLogger struct{}

func (gormHistoryLogger) Append(tx *gorm.DB, record *ChangeRecord) error {
	return tx.Create(record).Error
}

// ServiceConfig describes the collaborators of the sync engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Guard      OwnershipGuard
	Blobs      BlobStore
	Clock      func() time.Time
	IDProvider IDProvider
	History    HistoryLogger
	Logger     *zap.Logger
	Policy     ConflictPolicy
}

// Service reconciles offline-captured entities with the authoritative store.
type Service struct {
	db         *gorm.DB
	guard      OwnershipGuard
	blobs      BlobStore
	clock      func() time.Time
	idProvider IDProvider
	history    HistoryLogger
	logger     *zap.Logger
	policy     ConflictPolicy
}

// NewService validates the configuration and returns a sync service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Guard == nil {
		return nil, newServiceError(opServiceNew, "missing_guard", errMissingGuard)
	}
	if cfg.Blobs == nil {
		return nil, newServiceError(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	history := cfg.History
	if history == nil {
		history = gormHistoryLogger{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyServerWins
	}

	return &Service{
		db:         cfg.Database,
		guard:      cfg.Guard,
		blobs:      cfg.Blobs,
		clock:      clock,
		idProvider: cfg.IDProvider,
		history:    history,
		logger:     logger,
		policy:     policy,
	}, nil
}

// AssessmentResult reports the outcome of a single assessment sync.
type AssessmentResult struct {
	AssessmentID string
	OfflineID    OfflineID
	Conflict     bool
	Resolution   Resolution
}

// PhotoResult reports the outcome of a single photo sync.
type PhotoResult struct {
	PhotoID   string
	URL       string
	OfflineID OfflineID
}

// DeficiencyResult reports the outcome of a single deficiency sync.
type DeficiencyResult struct {
	DeficiencyID string
	OfflineID    OfflineID
}

// BatchItemResult mirrors one batch input item, success or failure.
type BatchItemResult struct {
	OfflineID  string
	Success    bool
	EntityID   string
	URL        string
	Resolution Resolution
	Error      string
}

// BatchResult aggregates a batch sync invocation.
type BatchResult struct {
	Results      []BatchItemResult
	SuccessCount int
	FailureCount int
}

// SyncAssessment reconciles one offline assessment write. The natural-key
// lookup, conflict resolution, upsert, and change record share a single
// transaction, so replays are idempotent per natural key.
func (s *Service) SyncAssessment(ctx context.Context, identity auth.Identity, envelope AssessmentEnvelope) (AssessmentResult, error) {
	if err := s.authorize(ctx, opSyncAssessment, identity, envelope.ProjectID().Int64()); err != nil {
		return AssessmentResult{}, err
	}

	var result AssessmentResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existingPtr *Assessment
		if envelope.HasNaturalKey() {
			var existing Assessment
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("project_id = ? AND component_code = ?", envelope.ProjectID().Int64(), envelope.ComponentCode()).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opSyncAssessment, "assessment_select_failed", err,
					zap.Int64("project_id", envelope.ProjectID().Int64()),
					zap.String("component_code", envelope.ComponentCode()))
				return newServiceError(opSyncAssessment, "assessment_select_failed", err)
			} else {
				existingPtr = &existing
			}
		}

		outcome := resolveAssessment(existingPtr, envelope, s.policy)
		created := existingPtr == nil

		switch outcome.Resolution {
		case ResolutionServerWins:
			result = AssessmentResult{
				AssessmentID: outcome.Updated.AssessmentID,
				OfflineID:    envelope.OfflineID(),
				Conflict:     true,
				Resolution:   ResolutionServerWins,
			}
			return nil
		case ResolutionAccepted:
			if created {
				assessmentID, err := s.idProvider.NewID()
				if err != nil {
					s.logError(opSyncAssessment, "id_generation_failed", err)
					return newServiceError(opSyncAssessment, "id_generation_failed", err)
				}
				outcome.Updated.AssessmentID = assessmentID
				if err := tx.Create(outcome.Updated).Error; err != nil {
					s.logError(opSyncAssessment, "assessment_insert_failed", err,
						zap.Int64("project_id", envelope.ProjectID().Int64()))
					return newServiceError(opSyncAssessment, "assessment_insert_failed", err)
				}
			} else {
				if err := tx.Save(outcome.Updated).Error; err != nil {
					s.logError(opSyncAssessment, "assessment_save_failed", err,
						zap.String("assessment_id", outcome.Updated.AssessmentID))
					return newServiceError(opSyncAssessment, "assessment_save_failed", err)
				}
			}
		case ResolutionMerged:
			if err := tx.Save(outcome.Updated).Error; err != nil {
				s.logError(opSyncAssessment, "assessment_merge_failed", err,
					zap.String("assessment_id", outcome.Updated.AssessmentID))
				return newServiceError(opSyncAssessment, "assessment_merge_failed", err)
			}
		}

		if created || len(outcome.FieldsChanged) > 0 {
			if err := s.appendChangeRecord(tx, changeRecordInput{
				entityKind:    EntityKindAssessment,
				entityID:      outcome.Updated.AssessmentID,
				projectID:     envelope.ProjectID().Int64(),
				actorUserID:   identity.UserID,
				created:       created,
				resolution:    outcome.Resolution,
				fieldsChanged: outcome.FieldsChanged,
			}); err != nil {
				return newServiceError(opSyncAssessment, "change_record_failed", err)
			}
		}

		result = AssessmentResult{
			AssessmentID: outcome.Updated.AssessmentID,
			OfflineID:    envelope.OfflineID(),
			Conflict:     outcome.Conflict(),
			Resolution:   outcome.Resolution,
		}
		return nil
	})
	if txErr != nil {
		return AssessmentResult{}, txErr
	}

	return result, nil
}

// SyncPhoto ingests one offline photo. Photos carry no natural key; replays
// inside the receipt TTL return the original row instead of inserting twice.
func (s *Service) SyncPhoto(ctx context.Context, identity auth.Identity, envelope PhotoEnvelope) (PhotoResult, error) {
	if err := s.authorize(ctx, opSyncPhoto, identity, envelope.ProjectID().Int64()); err != nil {
		return PhotoResult{}, err
	}

	if receipt, found, err := s.lookupReceipt(ctx, envelope.ProjectID().Int64(), EntityKindPhoto, envelope.OfflineID().String()); err != nil {
		return PhotoResult{}, newServiceError(opSyncPhoto, "receipt_select_failed", err)
	} else if found {
		var photo Photo
		err := s.db.WithContext(ctx).Where("photo_id = ?", receipt.EntityID).Take(&photo).Error
		if err == nil {
			return PhotoResult{PhotoID: photo.PhotoID, URL: photo.URL, OfflineID: envelope.OfflineID()}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return PhotoResult{}, newServiceError(opSyncPhoto, "photo_select_failed", err)
		}
	}

	storageKey := fmt.Sprintf("project/%d/photos/%d-%s",
		envelope.ProjectID().Int64(), envelope.CreatedAt().Int64(), envelope.FileName())
	url, err := s.blobs.Put(ctx, storageKey, envelope.Data(), envelope.ContentType())
	if err != nil {
		s.logError(opSyncPhoto, "blob_put_failed", err, zap.String("storage_key", storageKey))
		return PhotoResult{}, newServiceError(opSyncPhoto, "blob_put_failed", err)
	}

	photoID, err := s.idProvider.NewID()
	if err != nil {
		return PhotoResult{}, newServiceError(opSyncPhoto, "id_generation_failed", err)
	}

	photo := Photo{
		PhotoID:           photoID,
		ProjectID:         envelope.ProjectID().Int64(),
		AssessmentID:      envelope.AssessmentID(),
		AssetID:           envelope.AssetID(),
		FileName:          envelope.FileName(),
		Caption:           envelope.Caption(),
		StorageKey:        storageKey,
		URL:               url,
		Latitude:          envelope.Latitude(),
		Longitude:         envelope.Longitude(),
		GPSAccuracy:       envelope.GPSAccuracy(),
		OCRText:           envelope.OCRText(),
		CapturedAtSeconds: envelope.CreatedAt().Int64(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&photo).Error; err != nil {
			s.logError(opSyncPhoto, "photo_insert_failed", err, zap.String("photo_id", photoID))
			return newServiceError(opSyncPhoto, "photo_insert_failed", err)
		}
		if err := s.appendChangeRecord(tx, changeRecordInput{
			entityKind:  EntityKindPhoto,
			entityID:    photoID,
			projectID:   envelope.ProjectID().Int64(),
			actorUserID: identity.UserID,
			created:     true,
			resolution:  ResolutionAccepted,
		}); err != nil {
			return newServiceError(opSyncPhoto, "change_record_failed", err)
		}
		if err := s.writeReceipt(tx, envelope.ProjectID().Int64(), EntityKindPhoto, envelope.OfflineID().String(), photoID); err != nil {
			return newServiceError(opSyncPhoto, "receipt_write_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return PhotoResult{}, txErr
	}

	return PhotoResult{PhotoID: photoID, URL: url, OfflineID: envelope.OfflineID()}, nil
}

// SyncDeficiency inserts one offline deficiency row, defaults already applied
// by the envelope. Replays are absorbed via sync receipts like photos.
func (s *Service) SyncDeficiency(ctx context.Context, identity auth.Identity, envelope DeficiencyEnvelope) (DeficiencyResult, error) {
	if err := s.authorize(ctx, opSyncDeficiency, identity, envelope.ProjectID().Int64()); err != nil {
		return DeficiencyResult{}, err
	}

	if receipt, found, err := s.lookupReceipt(ctx, envelope.ProjectID().Int64(), EntityKindDeficiency, envelope.OfflineID().String()); err != nil {
		return DeficiencyResult{}, newServiceError(opSyncDeficiency, "receipt_select_failed", err)
	} else if found {
		return DeficiencyResult{DeficiencyID: receipt.EntityID, OfflineID: envelope.OfflineID()}, nil
	}

	deficiencyID, err := s.idProvider.NewID()
	if err != nil {
		return DeficiencyResult{}, newServiceError(opSyncDeficiency, "id_generation_failed", err)
	}

	deficiency := Deficiency{
		DeficiencyID:      deficiencyID,
		ProjectID:         envelope.ProjectID().Int64(),
		AssessmentID:      envelope.AssessmentID(),
		ComponentCode:     envelope.ComponentCode(),
		Title:             envelope.Title(),
		Description:       envelope.Description(),
		Severity:          envelope.Severity(),
		Priority:          envelope.Priority(),
		Status:            envelope.Status(),
		EstimatedCost:     envelope.EstimatedCost(),
		CapturedAtSeconds: envelope.CreatedAt().Int64(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&deficiency).Error; err != nil {
			s.logError(opSyncDeficiency, "deficiency_insert_failed", err, zap.String("deficiency_id", deficiencyID))
			return newServiceError(opSyncDeficiency, "deficiency_insert_failed", err)
		}
		if err := s.appendChangeRecord(tx, changeRecordInput{
			entityKind:  EntityKindDeficiency,
			entityID:    deficiencyID,
			projectID:   envelope.ProjectID().Int64(),
			actorUserID: identity.UserID,
			created:     true,
			resolution:  ResolutionAccepted,
		}); err != nil {
			return newServiceError(opSyncDeficiency, "change_record_failed", err)
		}
		if err := s.writeReceipt(tx, envelope.ProjectID().Int64(), EntityKindDeficiency, envelope.OfflineID().String(), deficiencyID); err != nil {
			return newServiceError(opSyncDeficiency, "receipt_write_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return DeficiencyResult{}, txErr
	}

	return DeficiencyResult{DeficiencyID: deficiencyID, OfflineID: envelope.OfflineID()}, nil
}

// BatchSyncAssessments drives single-item assessment syncs sequentially in
// input order. A failing item is converted into a failed result entry and the
// batch continues; the result list is always 1:1 with the input.
func (s *Service) BatchSyncAssessments(ctx context.Context, identity auth.Identity, items []AssessmentEnvelopeConfig) BatchResult {
	batch := BatchResult{Results: make([]BatchItemResult, 0, len(items))}
	for _, cfg := range items {
		envelope, err := NewAssessmentEnvelope(cfg)
		if err != nil {
			batch.Results = append(batch.Results, failedItem(cfg.OfflineID, err))
			batch.FailureCount++
			continue
		}
		result, err := s.SyncAssessment(ctx, identity, envelope)
		if err != nil {
			batch.Results = append(batch.Results, failedItem(cfg.OfflineID, err))
			batch.FailureCount++
			continue
		}
		batch.Results = append(batch.Results, BatchItemResult{
			OfflineID:  result.OfflineID.String(),
			Success:    true,
			EntityID:   result.AssessmentID,
			Resolution: result.Resolution,
		})
		batch.SuccessCount++
	}
	return batch
}

// BatchSyncPhotos drives single-item photo syncs with the same per-item
// isolation as BatchSyncAssessments.
func (s *Service) BatchSyncPhotos(ctx context.Context, identity auth.Identity, items []PhotoEnvelopeConfig) BatchResult {
	batch := BatchResult{Results: make([]BatchItemResult, 0, len(items))}
	for _, cfg := range items {
		envelope, err := NewPhotoEnvelope(cfg)
		if err != nil {
			batch.Results = append(batch.Results, failedItem(cfg.OfflineID, err))
			batch.FailureCount++
			continue
		}
		result, err := s.SyncPhoto(ctx, identity, envelope)
		if err != nil {
			batch.Results = append(batch.Results, failedItem(cfg.OfflineID, err))
			batch.FailureCount++
			continue
		}
		batch.Results = append(batch.Results, BatchItemResult{
			OfflineID: result.OfflineID.String(),
			Success:   true,
			EntityID:  result.PhotoID,
			URL:       result.URL,
		})
		batch.SuccessCount++
	}
	return batch
}

func failedItem(offlineID string, err error) BatchItemResult {
	return BatchItemResult{
		OfflineID: offlineID,
		Error:     classifyError(err),
	}
}

// classifyError reduces a sync failure to the stable code reported to batch
// callers.
func classifyError(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	if errors.Is(err, projects.ErrAccessDenied) {
		return "access_denied"
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code()
	}
	return "sync_failed"
}

func (s *Service) authorize(ctx context.Context, operation string, identity auth.Identity, projectID int64) error {
	if _, err := s.guard.Authorize(ctx, identity, projectID); err != nil {
		if errors.Is(err, projects.ErrAccessDenied) {
			return newServiceError(operation, "access_denied", err)
		}
		s.logError(operation, "ownership_lookup_failed", err, zap.Int64("project_id", projectID))
		return newServiceError(operation, "ownership_lookup_failed", err)
	}
	return nil
}

type changeRecordInput struct {
	entityKind    EntityKind
	entityID      string
	projectID     int64
	actorUserID   string
	created       bool
	resolution    Resolution
	fieldsChanged []string
}

func (s *Service) appendChangeRecord(tx *gorm.DB, input changeRecordInput) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		return err
	}
	fieldsJSON := ""
	if len(input.fieldsChanged) > 0 {
		encoded, err := json.Marshal(input.fieldsChanged)
		if err != nil {
			return err
		}
		fieldsJSON = string(encoded)
	}
	record := ChangeRecord{
		ChangeID:          changeID,
		EntityKind:        string(input.entityKind),
		EntityID:          input.entityID,
		ProjectID:         input.projectID,
		ActorUserID:       input.actorUserID,
		Created:           input.created,
		Resolution:        string(input.resolution),
		FieldsChangedJSON: fieldsJSON,
		AppliedAtSeconds:  s.clock().UTC().Unix(),
	}
	return s.history.Append(tx, &record)
}

func (s *Service) lookupReceipt(ctx context.Context, projectID int64, kind EntityKind, offlineID string) (SyncReceipt, bool, error) {
	var receipt SyncReceipt
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND entity_kind = ? AND offline_id = ?", projectID, string(kind), offlineID).
		Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SyncReceipt{}, false, nil
	}
	if err != nil {
		return SyncReceipt{}, false, err
	}
	if receipt.ExpiresAtSeconds < s.clock().UTC().Unix() {
		return SyncReceipt{}, false, nil
	}
	return receipt, true, nil
}

func (s *Service) writeReceipt(tx *gorm.DB, projectID int64, kind EntityKind, offlineID, entityID string) error {
	now := s.clock().UTC()
	receipt := SyncReceipt{
		ProjectID:        projectID,
		EntityKind:       string(kind),
		OfflineID:        offlineID,
		EntityID:         entityID,
		ExpiresAtSeconds: now.Add(receiptTTL).Unix(),
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&receipt).Error; err != nil {
		return err
	}
	// Opportunistic purge keeps the table bounded without a background job.
	return tx.Where("expires_at_s < ?", now.Unix()).Delete(&SyncReceipt{}).Error
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("fieldsync service error", attrs...)
}
