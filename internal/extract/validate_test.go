package extract

import (
	"testing"

	"github.com/clarigen/clarigen/pkg/models"
)

const marker = "【完整请求总结】"

func validRecord(rounds int) models.Record {
	rec := models.Record{System: "系统指令"}
	for i := 0; i < rounds; i++ {
		value := "好的，继续"
		if i == rounds-1 {
			value = marker + "以上就是全部请求"
		}
		rec.Conversations = append(rec.Conversations,
			models.Turn{From: models.RoleHuman, Value: "请求"},
			models.Turn{From: models.RoleGPT, Value: value},
		)
	}
	return rec
}

func TestValidate_Accepts(t *testing.T) {
	for _, rounds := range []int{1, 3, 5} {
		ok, reason := Validate(validRecord(rounds), rounds, marker)
		if !ok {
			t.Errorf("Expected %d-round record accepted, rejected with %s", rounds, reason)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Record)
		rounds int
		want   RejectReason
	}{
		{
			name:   "missing system",
			mutate: func(r *models.Record) { r.System = "" },
			rounds: 3,
			want:   ReasonMissingField,
		},
		{
			name:   "no conversations",
			mutate: func(r *models.Record) { r.Conversations = nil },
			rounds: 3,
			want:   ReasonMissingField,
		},
		{
			name:   "unknown role tag",
			mutate: func(r *models.Record) { r.Conversations[1].From = "assistant" },
			rounds: 3,
			want:   ReasonMalformedTurn,
		},
		{
			name:   "empty turn value",
			mutate: func(r *models.Record) { r.Conversations[2].Value = "" },
			rounds: 3,
			want:   ReasonMalformedTurn,
		},
		{
			name: "two human turns in a row",
			mutate: func(r *models.Record) {
				r.Conversations[1] = models.Turn{From: models.RoleHuman, Value: "再问一次"}
			},
			rounds: 3,
			want:   ReasonRoleMismatch,
		},
		{
			name: "ends on human turn",
			mutate: func(r *models.Record) {
				r.Conversations = append(r.Conversations, models.Turn{From: models.RoleHuman, Value: "追问"})
			},
			rounds: 3,
			want:   ReasonRoleMismatch,
		},
		{
			name:   "three rounds against round count five",
			mutate: func(r *models.Record) {},
			rounds: 5,
			want:   ReasonRoundCountMismatch,
		},
		{
			name: "final turn lacks summary marker",
			mutate: func(r *models.Record) {
				r.Conversations[len(r.Conversations)-1].Value = "没有总结标记"
			},
			rounds: 3,
			want:   ReasonMissingSummaryMarker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord(3)
			tt.mutate(&rec)
			ok, reason := Validate(rec, tt.rounds, marker)
			if ok {
				t.Fatal("Expected rejection, record was accepted")
			}
			if reason != tt.want {
				t.Errorf("Expected reason %s, got %s", tt.want, reason)
			}
		})
	}
}
