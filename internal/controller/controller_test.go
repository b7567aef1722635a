package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/clarigen/clarigen/internal/api"
	"github.com/clarigen/clarigen/internal/budget"
	"github.com/clarigen/clarigen/internal/config"
	"github.com/clarigen/clarigen/internal/session"
	"github.com/clarigen/clarigen/pkg/models"
)

const marker = "【完整请求总结】"

func testConfig() *config.Config {
	return &config.Config{
		Generation: config.GenerationConfig{
			TargetPerTask:     50,
			MaxRetries:        3,
			RetryDelaySeconds: 0,
			SummaryMarker:     marker,
		},
		Model: config.ModelConfig{
			ModelName:       "deepseek-chat",
			MaxOutputTokens: config.MaxOutputTokensReasoning,
			ContextSize:     config.DefaultContextSize,
		},
		TokensPerRound: map[string]int{"1": 365, "2": 344, "3": 354, "4": 481, "5": 425},
	}
}

func testTask() models.Task {
	return models.Task{
		DomainLine: "美容美发 (Beauty_Hairdressing)",
		TypeLine:   "condition_missing（条件缺失）",
		RoundLine:  "3轮：两次追问",
		DomainCode: "Beauty_Hairdressing",
		TypeCode:   "condition_missing",
		Rounds:     3,
		Target:     50,
	}
}

func validRecords(n, rounds int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		rec := models.Record{System: "系统指令"}
		for r := 0; r < rounds; r++ {
			value := "追问"
			if r == rounds-1 {
				value = marker + "总结"
			}
			rec.Conversations = append(rec.Conversations,
				models.Turn{From: models.RoleHuman, Value: "请求"},
				models.Turn{From: models.RoleGPT, Value: value},
			)
		}
		records[i] = rec
	}
	return records
}

func recordsJSON(t *testing.T, records []models.Record) string {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("Failed to marshal records: %v", err)
	}
	return string(data)
}

// exchangeCall captures one driver invocation.
type exchangeCall struct {
	instruction string
	maxTokens   int
	sessionLen  int
}

// fakeDriver replays scripted responses. A response starting with "ERR:" is
// returned as a retryable server error, "FATAL:" as non-retryable.
type fakeDriver struct {
	responses []string
	calls     []exchangeCall
}

func (d *fakeDriver) Exchange(ctx context.Context, sess *session.Session, instruction string, maxTokens int) (string, api.Usage, error) {
	d.calls = append(d.calls, exchangeCall{
		instruction: instruction,
		maxTokens:   maxTokens,
		sessionLen:  sess.Len(),
	})
	if len(d.responses) == 0 {
		return "", api.Usage{}, errors.New("fakeDriver: no scripted response left")
	}
	resp := d.responses[0]
	d.responses = d.responses[1:]

	if strings.HasPrefix(resp, "ERR:") {
		return "", api.Usage{}, &api.APIError{
			Message:   strings.TrimPrefix(resp, "ERR:"),
			Class:     api.ClassServerError,
			Retryable: true,
		}
	}
	if strings.HasPrefix(resp, "FATAL:") {
		return "", api.Usage{}, &api.APIError{
			Message:   strings.TrimPrefix(resp, "FATAL:"),
			Class:     api.ClassMalformedRequest,
			Retryable: false,
		}
	}

	sess.AppendExchange(instruction, resp)
	return resp, api.Usage{PromptTokens: 100, CompletionTokens: 500}, nil
}

// fakeStore keeps records in memory.
type fakeStore struct {
	records    map[string][]models.Record
	captures   []string
	incomplete []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]models.Record)}
}

func (s *fakeStore) Count(task models.Task) (int, error) {
	return len(s.records[task.ID()]), nil
}

func (s *fakeStore) Append(task models.Task, records []models.Record) (int, error) {
	s.records[task.ID()] = append(s.records[task.ID()], records...)
	return len(s.records[task.ID()]), nil
}

func (s *fakeStore) CaptureRaw(task models.Task, raw string) error {
	s.captures = append(s.captures, raw)
	return nil
}

func (s *fakeStore) LogIncomplete(task models.Task, finalCount int) error {
	s.incomplete = append(s.incomplete, task.ID())
	return nil
}

func newController(driver Driver, store Store, cfg *config.Config) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(driver, store, budget.NewEstimator(cfg), cfg, nil, logger)
}

func TestRun_AlreadyAtTarget(t *testing.T) {
	cfg := testConfig()
	task := testTask()
	store := newFakeStore()
	store.records[task.ID()] = validRecords(50, 3)
	driver := &fakeDriver{}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Status != models.TaskComplete {
		t.Errorf("Expected complete status, got %s", stats.Status)
	}
	if len(driver.calls) != 0 {
		t.Errorf("Expected zero exchanges for a task already at target, got %d", len(driver.calls))
	}
	if len(store.records[task.ID()]) != 50 {
		t.Errorf("Storage mutated: %d records", len(store.records[task.ID()]))
	}
}

func TestRun_BackfillToTarget(t *testing.T) {
	cfg := testConfig()
	task := testTask()
	store := newFakeStore()

	// First exchange: 48 valid plus 2 malformed candidates. Second: the
	// remaining 2.
	batch1 := validRecords(48, 3)
	batch1 = append(batch1,
		models.Record{System: "缺少对话"},
		models.Record{System: "缺少标记", Conversations: []models.Turn{
			{From: models.RoleHuman, Value: "请求"},
			{From: models.RoleGPT, Value: "没有标记"},
		}},
	)
	driver := &fakeDriver{responses: []string{
		recordsJSON(t, batch1),
		recordsJSON(t, validRecords(2, 3)),
	}}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Status != models.TaskComplete {
		t.Fatalf("Expected complete, got %s", stats.Status)
	}
	if got := len(store.records[task.ID()]); got != 50 {
		t.Errorf("Expected 50 persisted records, got %d", got)
	}
	if stats.Accepted != 50 || stats.Rejected != 2 {
		t.Errorf("Expected 50 accepted / 2 rejected, got %d / %d", stats.Accepted, stats.Rejected)
	}
	if len(driver.calls) != 2 {
		t.Fatalf("Expected exactly 2 exchanges, got %d", len(driver.calls))
	}

	first, second := driver.calls[0], driver.calls[1]
	if !strings.Contains(first.instruction, "请生成50条数据") {
		t.Errorf("First instruction should request the full batch:\n%s", first.instruction)
	}
	if !strings.Contains(second.instruction, "现在已经生成了48条数据") ||
		!strings.Contains(second.instruction, "2条数据补齐") {
		t.Errorf("Second instruction should be an in-session backfill for 2:\n%s", second.instruction)
	}
	if second.sessionLen != 3 {
		t.Errorf("Backfill should reuse the session (len 3 with history), got %d", second.sessionLen)
	}
	if second.maxTokens >= first.maxTokens {
		t.Errorf("Backfill budget %d should shrink below initial %d", second.maxTokens, first.maxTokens)
	}
}

func TestRun_RetriesExhaustTransitionToFailed(t *testing.T) {
	cfg := testConfig()
	task := testTask()
	store := newFakeStore()
	store.records[task.ID()] = validRecords(12, 3) // prior progress

	driver := &fakeDriver{responses: []string{
		"ERR:gateway timeout",
		"ERR:gateway timeout",
		"ERR:gateway timeout",
	}}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run returned error, task failure should not abort the batch: %v", err)
	}
	if stats.Status != models.TaskFailed {
		t.Fatalf("Expected failed status, got %s", stats.Status)
	}
	if stats.Retries != 3 {
		t.Errorf("Expected 3 retries, got %d", stats.Retries)
	}
	if len(store.incomplete) != 1 || store.incomplete[0] != task.ID() {
		t.Errorf("Expected one incomplete-log entry for the task, got %v", store.incomplete)
	}
	if got := len(store.records[task.ID()]); got != 12 {
		t.Errorf("Prior records must survive failure, got %d", got)
	}
	if stats.FinalCount != 12 {
		t.Errorf("Expected final count 12, got %d", stats.FinalCount)
	}
}

func TestRun_NonRetryableErrorFailsImmediately(t *testing.T) {
	cfg := testConfig()
	task := testTask()
	store := newFakeStore()
	driver := &fakeDriver{responses: []string{"FATAL:invalid request"}}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Status != models.TaskFailed {
		t.Errorf("Expected failed status, got %s", stats.Status)
	}
	if len(driver.calls) != 1 {
		t.Errorf("Non-retryable error should not be retried, got %d calls", len(driver.calls))
	}
	if len(store.incomplete) != 1 {
		t.Errorf("Expected incomplete-log entry, got %d", len(store.incomplete))
	}
}

func TestRun_ExtractionFailureCapturesRawAndRetries(t *testing.T) {
	cfg := testConfig()
	task := testTask()
	store := newFakeStore()

	driver := &fakeDriver{responses: []string{
		"抱歉，我无法生成这些数据。",
		recordsJSON(t, validRecords(50, 3)),
	}}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Status != models.TaskComplete {
		t.Fatalf("Expected complete after recovery, got %s", stats.Status)
	}
	if len(store.captures) != 1 || !strings.Contains(store.captures[0], "抱歉") {
		t.Errorf("Expected the unparseable response captured, got %v", store.captures)
	}
	if stats.Retries != 1 {
		t.Errorf("Extraction failure should consume one retry, got %d", stats.Retries)
	}
}

func TestRun_RetryCounterResetsOnProgress(t *testing.T) {
	cfg := testConfig()
	task := testTask()
	store := newFakeStore()

	// Two failures, progress, two more failures, progress: with max_retries
	// of 3 the task still completes because the counter resets on success.
	driver := &fakeDriver{responses: []string{
		"ERR:one",
		"ERR:two",
		recordsJSON(t, validRecords(48, 3)),
		"ERR:three",
		"ERR:four",
		recordsJSON(t, validRecords(2, 3)),
	}}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Status != models.TaskComplete {
		t.Fatalf("Expected complete, got %s", stats.Status)
	}
	if stats.Retries != 4 {
		t.Errorf("Expected 4 total retries, got %d", stats.Retries)
	}
	if got := len(store.records[task.ID()]); got != 50 {
		t.Errorf("Expected 50 records, got %d", got)
	}
}

func TestRun_SessionResetWhenHeadroomExhausted(t *testing.T) {
	cfg := testConfig()
	// A tiny context window forces a reset before the backfill exchange.
	cfg.Model.ContextSize = 600
	cfg.Model.MaxOutputTokens = 1500
	task := testTask()
	store := newFakeStore()

	driver := &fakeDriver{responses: []string{
		recordsJSON(t, validRecords(3, 3)),
		recordsJSON(t, validRecords(1, 3)),
	}}

	// FitCount under the 1500 ceiling limits each request to 3 records, so
	// target 4 takes two exchanges.
	task.Target = 4
	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Status != models.TaskComplete {
		t.Fatalf("Expected complete, got %s", stats.Status)
	}
	if len(driver.calls) != 2 {
		t.Fatalf("Expected 2 exchanges, got %d", len(driver.calls))
	}

	second := driver.calls[1]
	if second.sessionLen != 1 {
		t.Errorf("Expected a fresh session (len 1) after headroom reset, got %d", second.sessionLen)
	}
	if !strings.Contains(second.instruction, "请生成") {
		t.Errorf("A fresh session must receive the full instruction, not a backfill message:\n%s", second.instruction)
	}
}

func TestRun_ShrinksOversizedBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Model.MaxOutputTokens = config.MaxOutputTokensStandard
	task := testTask()
	store := newFakeStore()

	// Round 3 at 354/record against the 8000 ceiling fits 18 records per
	// exchange; the first request must ask for 18, not 50.
	driver := &fakeDriver{responses: []string{
		recordsJSON(t, validRecords(18, 3)),
		recordsJSON(t, validRecords(18, 3)),
		recordsJSON(t, validRecords(14, 3)),
	}}

	stats, err := newController(driver, store, cfg).Run(context.Background(), task, "系统提示")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Status != models.TaskComplete {
		t.Fatalf("Expected complete, got %s", stats.Status)
	}
	if !strings.Contains(driver.calls[0].instruction, "请生成18条数据") {
		t.Errorf("Expected shrunken first request for 18 records:\n%s", driver.calls[0].instruction)
	}
	for _, call := range driver.calls {
		if call.maxTokens > cfg.Model.MaxOutputTokens {
			t.Errorf("Budget %d exceeds ceiling %d", call.maxTokens, cfg.Model.MaxOutputTokens)
		}
	}
}
