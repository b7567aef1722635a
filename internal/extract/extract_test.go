package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/clarigen/clarigen/pkg/models"
)

func sampleRecord(i int) models.Record {
	return models.Record{
		System: "你是一个对话生成助手",
		Conversations: []models.Turn{
			{From: models.RoleHuman, Value: fmt.Sprintf("帮我处理第%d件事", i)},
			{From: models.RoleGPT, Value: fmt.Sprintf("【完整请求总结】已经处理完第%d件事", i)},
		},
	}
}

func sampleArrayJSON(t *testing.T, n int) string {
	t.Helper()
	records := make([]models.Record, n)
	for i := range records {
		records[i] = sampleRecord(i)
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("Failed to marshal sample records: %v", err)
	}
	return string(data)
}

func TestRecords_StrictArray(t *testing.T) {
	text := sampleArrayJSON(t, 5)
	records, truncated := Records(text)
	if truncated {
		t.Error("Expected truncated=false for a well-formed array")
	}
	if len(records) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(records))
	}
	if records[2].Conversations[0].Value != "帮我处理第2件事" {
		t.Errorf("Record order not preserved: %q", records[2].Conversations[0].Value)
	}
}

func TestRecords_CodeFence(t *testing.T) {
	text := "```json\n" + sampleArrayJSON(t, 3) + "\n```"
	records, truncated := Records(text)
	if truncated {
		t.Error("Expected truncated=false for fenced well-formed array")
	}
	if len(records) != 3 {
		t.Errorf("Expected 3 records, got %d", len(records))
	}
}

func TestRecords_ObjectWrappedArray(t *testing.T) {
	// json_object response mode cannot emit a bare top-level array.
	text := fmt.Sprintf(`{"data": %s}`, sampleArrayJSON(t, 4))
	records, truncated := Records(text)
	if truncated {
		t.Error("Expected truncated=false for object-wrapped well-formed array")
	}
	if len(records) != 4 {
		t.Errorf("Expected 4 records, got %d", len(records))
	}
}

func TestRecords_TruncatedTail(t *testing.T) {
	full := sampleArrayJSON(t, 10)

	// Cut the last 30% of the text, mid-array. Every record whose closing
	// brace lands before the cut must survive; nothing after it may appear.
	cut := full[:len(full)*70/100]
	records, truncated := Records(cut)
	if !truncated {
		t.Error("Expected truncated=true for a cut array")
	}
	if len(records) == 0 {
		t.Fatal("Expected some records recovered before the cut")
	}
	if len(records) >= 10 {
		t.Fatalf("Recovered %d records from a 70%% prefix of 10", len(records))
	}
	for i, rec := range records {
		want := fmt.Sprintf("帮我处理第%d件事", i)
		if rec.Conversations[0].Value != want {
			t.Errorf("Record %d out of order: got %q", i, rec.Conversations[0].Value)
		}
	}

	// The recovered count matches the number of complete objects in the
	// prefix: count closing-brace record boundaries manually.
	complete := 0
	depth := 0
	inString := false
	escaped := false
	for _, r := range cut[1:] {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					complete++
				}
			}
		}
	}
	if len(records) != complete {
		t.Errorf("Recovered %d records, prefix contains %d complete objects", len(records), complete)
	}
}

func TestRecords_TruncatedObjectWrapper(t *testing.T) {
	text := fmt.Sprintf(`{"data": %s}`, sampleArrayJSON(t, 6))
	cut := text[:len(text)*70/100]
	records, truncated := Records(cut)
	if !truncated {
		t.Error("Expected truncated=true for a cut wrapper")
	}
	if len(records) == 0 {
		t.Error("Expected records recovered from the truncated wrapper")
	}
}

func TestRecords_BracesInsidePayload(t *testing.T) {
	rec := sampleRecord(0)
	rec.Conversations[0].Value = `配置是 {"nested": {"deep": "值"}} 和 ]`
	data, _ := json.Marshal([]models.Record{rec, sampleRecord(1)})

	// Truncate after the first record's closing brace.
	text := string(data)
	cutPoint := strings.Index(text, `},{`) + 1
	records, truncated := Records(text[:cutPoint])
	if !truncated {
		t.Error("Expected truncated=true")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record despite braces in payload, got %d", len(records))
	}
	if records[0].Conversations[0].Value != rec.Conversations[0].Value {
		t.Errorf("Payload corrupted: %q", records[0].Conversations[0].Value)
	}
}

func TestRecords_NoParseableContent(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose only", "抱歉，我无法生成这些数据。"},
		{"cut before first record", `[{"sys`},
		{"bare brackets", "[]extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, truncated := Records(tt.text)
			if len(records) != 0 {
				t.Errorf("Expected no records, got %d", len(records))
			}
			if !truncated {
				t.Error("Expected truncated=true when nothing parses strictly")
			}
		})
	}
}

func TestRecords_SkipsNonRecordObjects(t *testing.T) {
	text := `[{"note": "metadata"}, {"system": "s", "conversations": [{"from": "human", "value": "q"}]}] trailing`
	records, truncated := Records(text)
	if !truncated {
		t.Error("Expected truncated=true, trailing text breaks the strict parse")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].System != "s" {
		t.Errorf("Wrong record kept: %+v", records[0])
	}
}
