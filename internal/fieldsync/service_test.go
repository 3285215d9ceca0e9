package fieldsync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/crestline/fieldsync/backend/internal/auth"
	"github.com/crestline/fieldsync/backend/internal/projects"
)

func assessorIdentity(tenant string) auth.Identity {
	return auth.Identity{UserID: "user-1", TenantID: tenant, Role: auth.RoleAssessor}
}

func assessmentConfig(projectID int64, createdAt int64) AssessmentEnvelopeConfig {
	return AssessmentEnvelopeConfig{
		OfflineID:        "a1",
		ProjectID:        projectID,
		CreatedAtSeconds: createdAt,
		ComponentCode:    "B2010",
		ConditionRating:  3,
		Observations:     "cracking observed",
	}
}

func photoConfig(projectID int64, offlineID string) PhotoEnvelopeConfig {
	return PhotoEnvelopeConfig{
		OfflineID:        offlineID,
		ProjectID:        projectID,
		CreatedAtSeconds: 1704067200,
		FileName:         "roof.jpg",
		DataBase64:       base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
		ContentType:      "image/jpeg",
		Caption:          "north elevation",
		Latitude:         41.88,
		Longitude:        -87.63,
		GPSAccuracy:      4.5,
	}
}

func TestSyncAssessmentCreatesNewRecord(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	projectID := projectIDs[0]

	envelope := mustAssessmentEnvelope(t, assessmentConfig(projectID, 1704067200))
	result, err := env.service.SyncAssessment(context.Background(), assessorIdentity("tenant-1"), envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Resolution != ResolutionAccepted {
		t.Fatalf("expected accepted, got %s", result.Resolution)
	}
	if result.Conflict {
		t.Fatalf("expected no conflict for fresh record")
	}
	if result.AssessmentID == "" {
		t.Fatalf("expected durable assessment id")
	}
	if result.OfflineID.String() != "a1" {
		t.Fatalf("expected offline id echoed back, got %q", result.OfflineID.String())
	}

	var stored Assessment
	if err := env.db.Where("assessment_id = ?", result.AssessmentID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load stored assessment: %v", err)
	}
	if stored.CapturedAtSeconds != 1704067200 {
		t.Fatalf("effective timestamp must come from offline capture, got %d", stored.CapturedAtSeconds)
	}

	var record ChangeRecord
	if err := env.db.Where("entity_id = ?", result.AssessmentID).Take(&record).Error; err != nil {
		t.Fatalf("failed to load change record: %v", err)
	}
	if !record.Created {
		t.Fatalf("expected creation flag on change record")
	}
	if record.ActorUserID != "user-1" {
		t.Fatalf("unexpected actor %q", record.ActorUserID)
	}
	if !strings.Contains(record.FieldsChangedJSON, FieldObservations) {
		t.Fatalf("expected observations in changed fields, got %s", record.FieldsChangedJSON)
	}
}

func TestSyncAssessmentServerWinsKeepsStoredRecord(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	projectID := projectIDs[0]
	identity := assessorIdentity("tenant-1")

	first := mustAssessmentEnvelope(t, assessmentConfig(projectID, 1704067200))
	created, err := env.service.SyncAssessment(context.Background(), identity, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	staleCfg := assessmentConfig(projectID, 1701388800) // 2023-12-01, older
	staleCfg.OfflineID = "a2"
	staleCfg.Observations = "stale field notes"
	stale := mustAssessmentEnvelope(t, staleCfg)

	result, err := env.service.SyncAssessment(context.Background(), identity, stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Resolution != ResolutionServerWins {
		t.Fatalf("expected server_wins, got %s", result.Resolution)
	}
	if !result.Conflict {
		t.Fatalf("expected conflict flag")
	}
	if result.AssessmentID != created.AssessmentID {
		t.Fatalf("expected stored identifier %q, got %q", created.AssessmentID, result.AssessmentID)
	}

	var stored Assessment
	if err := env.db.Where("assessment_id = ?", created.AssessmentID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load stored assessment: %v", err)
	}
	if stored.Observations != "cracking observed" {
		t.Fatalf("stored record must be unchanged, got %q", stored.Observations)
	}

	var recordCount int64
	if err := env.db.Model(&ChangeRecord{}).Count(&recordCount).Error; err != nil {
		t.Fatalf("failed to count change records: %v", err)
	}
	if recordCount != 1 {
		t.Fatalf("discarded write must not add change records, got %d", recordCount)
	}
}

func TestSyncAssessmentReplayIsIdempotent(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	identity := assessorIdentity("tenant-1")
	envelope := mustAssessmentEnvelope(t, assessmentConfig(projectIDs[0], 1704067200))

	first, err := env.service.SyncAssessment(context.Background(), identity, envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := env.service.SyncAssessment(context.Background(), identity, envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.AssessmentID != second.AssessmentID {
		t.Fatalf("replay must map to the same assessment id: %q vs %q", first.AssessmentID, second.AssessmentID)
	}
	if second.Resolution != ResolutionAccepted {
		t.Fatalf("tie replay must stay accepted, got %s", second.Resolution)
	}

	var rowCount int64
	if err := env.db.Model(&Assessment{}).Count(&rowCount).Error; err != nil {
		t.Fatalf("failed to count assessments: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("replay must not create extra rows, got %d", rowCount)
	}
}

func TestSyncAssessmentTimestampOrdering(t *testing.T) {
	identity := assessorIdentity("tenant-1")

	t.Run("older-then-newer-overwrites", func(t *testing.T) {
		env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
		t1 := mustAssessmentEnvelope(t, assessmentConfig(projectIDs[0], 1701388800))
		t2cfg := assessmentConfig(projectIDs[0], 1704067200)
		t2cfg.OfflineID = "a2"
		t2cfg.Observations = "updated observations"
		t2 := mustAssessmentEnvelope(t, t2cfg)

		if _, err := env.service.SyncAssessment(context.Background(), identity, t1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result, err := env.service.SyncAssessment(context.Background(), identity, t2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Resolution != ResolutionAccepted {
			t.Fatalf("newer write must be accepted, got %s", result.Resolution)
		}

		var stored Assessment
		if err := env.db.Take(&stored).Error; err != nil {
			t.Fatalf("failed to load assessment: %v", err)
		}
		if stored.Observations != "updated observations" {
			t.Fatalf("newer write must overwrite, got %q", stored.Observations)
		}
	})

	t.Run("newer-then-older-discards", func(t *testing.T) {
		env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
		t2 := mustAssessmentEnvelope(t, assessmentConfig(projectIDs[0], 1704067200))
		t1cfg := assessmentConfig(projectIDs[0], 1701388800)
		t1cfg.OfflineID = "a2"
		t1cfg.Observations = "stale observations"
		t1 := mustAssessmentEnvelope(t, t1cfg)

		if _, err := env.service.SyncAssessment(context.Background(), identity, t2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result, err := env.service.SyncAssessment(context.Background(), identity, t1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Resolution != ResolutionServerWins {
			t.Fatalf("older write must be discarded, got %s", result.Resolution)
		}

		var stored Assessment
		if err := env.db.Take(&stored).Error; err != nil {
			t.Fatalf("failed to load assessment: %v", err)
		}
		if stored.Observations != "cracking observed" {
			t.Fatalf("stored record must be unchanged, got %q", stored.Observations)
		}
	})
}

func TestSyncAssessmentFieldMergeFillsGaps(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyFieldMerge, "tenant-1")
	identity := assessorIdentity("tenant-1")
	projectID := projectIDs[0]

	newerCfg := assessmentConfig(projectID, 1704067200)
	newerCfg.EstimatedRepairCost = 0
	if _, err := env.service.SyncAssessment(context.Background(), identity, mustAssessmentEnvelope(t, newerCfg)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	olderCfg := assessmentConfig(projectID, 1701388800)
	olderCfg.OfflineID = "a2"
	olderCfg.Observations = "different observations"
	olderCfg.EstimatedRepairCost = 4200
	result, err := env.service.SyncAssessment(context.Background(), identity, mustAssessmentEnvelope(t, olderCfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Resolution != ResolutionMerged {
		t.Fatalf("expected merged, got %s", result.Resolution)
	}
	if !result.Conflict {
		t.Fatalf("merge must be reported as a conflict outcome")
	}

	var stored Assessment
	if err := env.db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load assessment: %v", err)
	}
	if stored.Observations != "cracking observed" {
		t.Fatalf("non-empty observations must survive the merge, got %q", stored.Observations)
	}
	if stored.EstimatedRepairCost != 4200 {
		t.Fatalf("empty repair cost must be filled, got %f", stored.EstimatedRepairCost)
	}

	var record ChangeRecord
	if err := env.db.Where("resolution = ?", string(ResolutionMerged)).Take(&record).Error; err != nil {
		t.Fatalf("expected merge change record: %v", err)
	}
	if !strings.Contains(record.FieldsChangedJSON, FieldEstimatedRepairCost) {
		t.Fatalf("expected estimated repair cost in %s", record.FieldsChangedJSON)
	}
}

func TestSyncAssessmentDeniesForeignTenant(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	envelope := mustAssessmentEnvelope(t, assessmentConfig(projectIDs[0], 1704067200))

	_, err := env.service.SyncAssessment(context.Background(), assessorIdentity("tenant-2"), envelope)
	if !errors.Is(err, projects.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}

	var rowCount int64
	if err := env.db.Model(&Assessment{}).Count(&rowCount).Error; err != nil {
		t.Fatalf("failed to count assessments: %v", err)
	}
	if rowCount != 0 {
		t.Fatalf("denied write must leave no rows, got %d", rowCount)
	}
}

func TestSyncPhotoStoresBlobAndMetadata(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	projectID := projectIDs[0]

	envelope := mustPhotoEnvelope(t, photoConfig(projectID, "p1"))
	result, err := env.service.SyncPhoto(context.Background(), assessorIdentity("tenant-1"), envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PhotoID == "" || result.URL == "" {
		t.Fatalf("expected photo id and url, got %+v", result)
	}

	expectedKey := fmt.Sprintf("project/%d/photos/1704067200-roof.jpg", projectID)
	if _, ok := env.blobs.puts[expectedKey]; !ok {
		t.Fatalf("expected blob under key %q, got %v", expectedKey, env.blobs.puts)
	}

	var stored Photo
	if err := env.db.Where("photo_id = ?", result.PhotoID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load photo: %v", err)
	}
	if stored.URL != result.URL {
		t.Fatalf("stored url mismatch: %q vs %q", stored.URL, result.URL)
	}
	if stored.StorageKey != expectedKey {
		t.Fatalf("unexpected storage key %q", stored.StorageKey)
	}
	if stored.Latitude != 41.88 || stored.GPSAccuracy != 4.5 {
		t.Fatalf("capture metadata must be persisted, got %+v", stored)
	}

	var record ChangeRecord
	if err := env.db.Where("entity_kind = ?", string(EntityKindPhoto)).Take(&record).Error; err != nil {
		t.Fatalf("expected photo change record: %v", err)
	}
	if !record.Created {
		t.Fatalf("photo sync must log a creation")
	}
}

func TestSyncPhotoReplayIsAbsorbedByReceipt(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	identity := assessorIdentity("tenant-1")
	envelope := mustPhotoEnvelope(t, photoConfig(projectIDs[0], "p1"))

	first, err := env.service.SyncPhoto(context.Background(), identity, envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := env.service.SyncPhoto(context.Background(), identity, envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.PhotoID != second.PhotoID {
		t.Fatalf("replay must return the original photo id: %q vs %q", first.PhotoID, second.PhotoID)
	}
	if env.blobs.calls != 1 {
		t.Fatalf("replay must not upload again, got %d uploads", env.blobs.calls)
	}

	var rowCount int64
	if err := env.db.Model(&Photo{}).Count(&rowCount).Error; err != nil {
		t.Fatalf("failed to count photos: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("replay must not duplicate rows, got %d", rowCount)
	}
}

func TestSyncPhotoBlobFailureLeavesNoRow(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	env.blobs.err = errBlobUnavailable

	envelope := mustPhotoEnvelope(t, photoConfig(projectIDs[0], "p1"))
	_, err := env.service.SyncPhoto(context.Background(), assessorIdentity("tenant-1"), envelope)
	if err == nil {
		t.Fatalf("expected blob failure to surface")
	}
	if !errors.Is(err, errBlobUnavailable) {
		t.Fatalf("expected wrapped blob error, got %v", err)
	}

	var rowCount int64
	if err := env.db.Model(&Photo{}).Count(&rowCount).Error; err != nil {
		t.Fatalf("failed to count photos: %v", err)
	}
	if rowCount != 0 {
		t.Fatalf("failed sync must leave no photo rows, got %d", rowCount)
	}
}

func TestSyncDeficiencyAppliesDefaultsAndReceipt(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	identity := assessorIdentity("tenant-1")

	envelope := mustDeficiencyEnvelope(t, DeficiencyEnvelopeConfig{
		OfflineID:        "d1",
		ProjectID:        projectIDs[0],
		CreatedAtSeconds: 1704067200,
		Description:      "water intrusion at parapet",
		EstimatedCost:    1500,
	})
	first, err := env.service.SyncDeficiency(context.Background(), identity, envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored Deficiency
	if err := env.db.Where("deficiency_id = ?", first.DeficiencyID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load deficiency: %v", err)
	}
	if stored.ComponentCode != DefaultComponentCode {
		t.Fatalf("expected sentinel component code, got %q", stored.ComponentCode)
	}
	if stored.Title != DefaultDeficiencyTitle {
		t.Fatalf("expected sentinel title, got %q", stored.Title)
	}
	if stored.Severity != SeverityMedium || stored.Priority != PriorityMediumTerm || stored.Status != StatusOpen {
		t.Fatalf("expected sentinel enums, got %+v", stored)
	}

	second, err := env.service.SyncDeficiency(context.Background(), identity, envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.DeficiencyID != second.DeficiencyID {
		t.Fatalf("replay must return the original deficiency id")
	}

	var rowCount int64
	if err := env.db.Model(&Deficiency{}).Count(&rowCount).Error; err != nil {
		t.Fatalf("failed to count deficiencies: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("replay must not duplicate rows, got %d", rowCount)
	}
}

func TestBatchSyncAssessmentsIsolatesFailures(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1", "tenant-2")
	identity := assessorIdentity("tenant-1")
	owned := projectIDs[0]
	foreign := projectIDs[1]

	items := make([]AssessmentEnvelopeConfig, 0, 5)
	for index := 0; index < 5; index++ {
		cfg := assessmentConfig(owned, 1704067200+int64(index))
		cfg.OfflineID = fmt.Sprintf("a%d", index+1)
		cfg.ComponentCode = fmt.Sprintf("B20%d0", index+1)
		if index == 2 {
			cfg.ProjectID = foreign
		}
		items = append(items, cfg)
	}

	batch := env.service.BatchSyncAssessments(context.Background(), identity, items)

	if batch.SuccessCount != 4 || batch.FailureCount != 1 {
		t.Fatalf("expected 4/1, got %d/%d", batch.SuccessCount, batch.FailureCount)
	}
	if len(batch.Results) != 5 {
		t.Fatalf("result list must mirror input length, got %d", len(batch.Results))
	}
	for index, result := range batch.Results {
		expectedOfflineID := fmt.Sprintf("a%d", index+1)
		if result.OfflineID != expectedOfflineID {
			t.Fatalf("result %d: expected offline id %q, got %q", index, expectedOfflineID, result.OfflineID)
		}
	}
	failed := batch.Results[2]
	if failed.Success {
		t.Fatalf("item 3 must fail ownership validation")
	}
	if failed.Error != "access_denied" {
		t.Fatalf("unexpected failure code %q", failed.Error)
	}
}

func TestBatchSyncAssessmentsOrdersSameNaturalKey(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	identity := assessorIdentity("tenant-1")

	newer := assessmentConfig(projectIDs[0], 1704067200)
	newer.OfflineID = "a1"
	newer.Observations = "newer observations"
	older := assessmentConfig(projectIDs[0], 1701388800)
	older.OfflineID = "a2"
	older.Observations = "older observations"

	batch := env.service.BatchSyncAssessments(context.Background(), identity, []AssessmentEnvelopeConfig{newer, older})

	if batch.SuccessCount != 2 {
		t.Fatalf("both items complete, got %d successes", batch.SuccessCount)
	}
	if batch.Results[0].Resolution != ResolutionAccepted {
		t.Fatalf("first item must be accepted, got %s", batch.Results[0].Resolution)
	}
	if batch.Results[1].Resolution != ResolutionServerWins {
		t.Fatalf("second item must see the first item's write, got %s", batch.Results[1].Resolution)
	}
	if batch.Results[0].EntityID != batch.Results[1].EntityID {
		t.Fatalf("both items must map to the same durable record")
	}
}

func TestBatchSyncAssessmentsReportsValidationPerItem(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	identity := assessorIdentity("tenant-1")

	valid := assessmentConfig(projectIDs[0], 1704067200)
	invalid := assessmentConfig(projectIDs[0], 0)
	invalid.OfflineID = "a2"

	batch := env.service.BatchSyncAssessments(context.Background(), identity, []AssessmentEnvelopeConfig{valid, invalid})

	if batch.SuccessCount != 1 || batch.FailureCount != 1 {
		t.Fatalf("expected 1/1, got %d/%d", batch.SuccessCount, batch.FailureCount)
	}
	failed := batch.Results[1]
	if failed.OfflineID != "a2" {
		t.Fatalf("failed item must echo its offline id, got %q", failed.OfflineID)
	}
	if !strings.Contains(failed.Error, "created_at_s") {
		t.Fatalf("expected offending field in error, got %q", failed.Error)
	}
}

func TestBatchSyncPhotosRoundTripsOfflineIDs(t *testing.T) {
	env, projectIDs := newTestEnv(t, PolicyServerWins, "tenant-1")
	identity := assessorIdentity("tenant-1")

	items := []PhotoEnvelopeConfig{
		photoConfig(projectIDs[0], "p1"),
		photoConfig(projectIDs[0], "p2"),
	}
	items[1].FileName = "basement.jpg"

	batch := env.service.BatchSyncPhotos(context.Background(), identity, items)

	if batch.SuccessCount != 2 || batch.FailureCount != 0 {
		t.Fatalf("expected 2/0, got %d/%d", batch.SuccessCount, batch.FailureCount)
	}
	seen := map[string]bool{}
	for _, result := range batch.Results {
		if !result.Success {
			t.Fatalf("unexpected failure %+v", result)
		}
		if result.URL == "" {
			t.Fatalf("photo result must carry a url")
		}
		if seen[result.OfflineID] {
			t.Fatalf("offline id %q appears more than once", result.OfflineID)
		}
		seen[result.OfflineID] = true
	}
	if !seen["p1"] || !seen["p2"] {
		t.Fatalf("every submitted offline id must appear exactly once, got %v", seen)
	}
}
