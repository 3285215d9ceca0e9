package fieldsync

// Field names reported in ConflictOutcome.FieldsChanged and change records.
const (
	FieldObservations        = "observations"
	FieldRecommendations     = "recommendations"
	FieldEstimatedRepairCost = "estimated_repair_cost"
	FieldReplacementValue    = "replacement_value"
	FieldConditionRating     = "condition_rating"
	FieldActionYear          = "action_year"
)

// ConflictOutcome captures the decision from resolveAssessment.
type ConflictOutcome struct {
	Resolution    Resolution
	FieldsChanged []string
	Updated       *Assessment
}

// Conflict reports whether a newer server record influenced the decision.
func (o ConflictOutcome) Conflict() bool {
	return o.Resolution != ResolutionAccepted
}

// resolveAssessment decides what happens when an offline-authored assessment
// write targets a natural key. The existing record wins only when it was
// modified strictly after the offline capture; ties go to the incoming write.
// The decision never errors: a discarded write is a normal resolution, not a
// failure.
func resolveAssessment(existing *Assessment, change AssessmentEnvelope, policy ConflictPolicy) ConflictOutcome {
	capturedAt := change.CreatedAt().Int64()

	if existing == nil || existing.UpdatedAtSeconds <= capturedAt {
		updated := Assessment{
			ProjectID:           change.ProjectID().Int64(),
			ComponentCode:       change.ComponentCode(),
			ConditionRating:     change.ConditionRating(),
			Observations:        change.Observations(),
			Recommendations:     change.Recommendations(),
			EstimatedRepairCost: change.EstimatedRepairCost(),
			ReplacementValue:    change.ReplacementValue(),
			ActionYear:          change.ActionYear(),
			CapturedAtSeconds:   capturedAt,
			UpdatedAtSeconds:    capturedAt,
		}
		var changed []string
		if existing != nil {
			updated.AssessmentID = existing.AssessmentID
			changed = diffAssessmentFields(existing, &updated)
		} else {
			changed = diffAssessmentFields(&Assessment{}, &updated)
		}
		return ConflictOutcome{
			Resolution:    ResolutionAccepted,
			FieldsChanged: changed,
			Updated:       &updated,
		}
	}

	if policy == PolicyServerWins {
		copyStored := *existing
		return ConflictOutcome{
			Resolution: ResolutionServerWins,
			Updated:    &copyStored,
		}
	}

	// Field-merge: the newer server record keeps everything it already has;
	// only empty slots may be filled from the older offline write.
	merged := *existing
	var filled []string
	if merged.Observations == "" && change.Observations() != "" {
		merged.Observations = change.Observations()
		filled = append(filled, FieldObservations)
	}
	if merged.Recommendations == "" && change.Recommendations() != "" {
		merged.Recommendations = change.Recommendations()
		filled = append(filled, FieldRecommendations)
	}
	if merged.EstimatedRepairCost == 0 && change.EstimatedRepairCost() != 0 {
		merged.EstimatedRepairCost = change.EstimatedRepairCost()
		filled = append(filled, FieldEstimatedRepairCost)
	}
	if merged.ReplacementValue == 0 && change.ReplacementValue() != 0 {
		merged.ReplacementValue = change.ReplacementValue()
		filled = append(filled, FieldReplacementValue)
	}

	if len(filled) == 0 {
		copyStored := *existing
		return ConflictOutcome{
			Resolution: ResolutionServerWins,
			Updated:    &copyStored,
		}
	}

	return ConflictOutcome{
		Resolution:    ResolutionMerged,
		FieldsChanged: filled,
		Updated:       &merged,
	}
}

func diffAssessmentFields(before, after *Assessment) []string {
	var changed []string
	if before.Observations != after.Observations {
		changed = append(changed, FieldObservations)
	}
	if before.Recommendations != after.Recommendations {
		changed = append(changed, FieldRecommendations)
	}
	if before.EstimatedRepairCost != after.EstimatedRepairCost {
		changed = append(changed, FieldEstimatedRepairCost)
	}
	if before.ReplacementValue != after.ReplacementValue {
		changed = append(changed, FieldReplacementValue)
	}
	if before.ConditionRating != after.ConditionRating {
		changed = append(changed, FieldConditionRating)
	}
	if before.ActionYear != after.ActionYear {
		changed = append(changed, FieldActionYear)
	}
	return changed
}
