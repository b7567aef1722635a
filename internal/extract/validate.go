package extract

import (
	"strings"

	"github.com/clarigen/clarigen/pkg/models"
)

// RejectReason identifies which structural invariant a record violated.
type RejectReason string

const (
	ReasonMissingField         RejectReason = "missing-field"
	ReasonMalformedTurn        RejectReason = "malformed-turn"
	ReasonRoleMismatch         RejectReason = "role-mismatch"
	ReasonRoundCountMismatch   RejectReason = "round-count-mismatch"
	ReasonMissingSummaryMarker RejectReason = "missing-summary-marker"
)

// Validate checks one candidate record against the task's round count.
// Accepted records satisfy every invariant: system field present, turns
// strictly alternate human/gpt starting with human, human turns equal the
// round count and the gpt turn count, and the final gpt turn opens with the
// summary marker. Rejection is non-fatal; the caller drops the record.
func Validate(rec models.Record, rounds int, marker string) (bool, RejectReason) {
	if strings.TrimSpace(rec.System) == "" {
		return false, ReasonMissingField
	}
	if len(rec.Conversations) == 0 {
		return false, ReasonMissingField
	}

	humans := 0
	gpts := 0
	for i, turn := range rec.Conversations {
		switch turn.From {
		case models.RoleHuman:
			humans++
		case models.RoleGPT:
			gpts++
		default:
			return false, ReasonMalformedTurn
		}
		if turn.Value == "" {
			return false, ReasonMalformedTurn
		}

		wantHuman := i%2 == 0
		if wantHuman && turn.From != models.RoleHuman {
			return false, ReasonRoleMismatch
		}
		if !wantHuman && turn.From != models.RoleGPT {
			return false, ReasonRoleMismatch
		}
	}

	last := rec.Conversations[len(rec.Conversations)-1]
	if last.From != models.RoleGPT {
		return false, ReasonRoleMismatch
	}

	if humans != rounds || humans != gpts {
		return false, ReasonRoundCountMismatch
	}

	if !strings.HasPrefix(last.Value, marker) {
		return false, ReasonMissingSummaryMarker
	}

	return true, ""
}
