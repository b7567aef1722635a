package models

import (
	"fmt"
	"time"
)

// Turn is a single message in a ShareGPT-format conversation.
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// Recognized turn roles
const (
	RoleHuman = "human"
	RoleGPT   = "gpt"
)

// Record is one generated dialogue sample in ShareGPT format: a system
// instruction plus alternating human/gpt turns ending with a summary.
type Record struct {
	System        string `json:"system"`
	Conversations []Turn `json:"conversations"`
}

// TaskStatus represents the lifecycle state of a generation task.
type TaskStatus string

const (
	TaskIncomplete TaskStatus = "incomplete"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of generation work: a (domain, ambiguity type, round
// count) combination with a fixed target record count. The *Line fields carry
// full plan-file lines used verbatim in generation instructions; the codes
// address the on-disk storage location.
type Task struct {
	DomainLine string
	TypeLine   string
	RoundLine  string

	DomainCode string
	TypeCode   string
	Rounds     int

	Target int
}

// ID returns a stable human-readable identity for logs and reports.
func (t Task) ID() string {
	return fmt.Sprintf("%s | %s | %d_round", t.DomainCode, t.TypeCode, t.Rounds)
}

// UsageTotals accumulates token usage across exchanges. It is returned from
// each task run and merged by the caller rather than kept as ambient state.
type UsageTotals struct {
	PromptTokens     int
	CacheHitTokens   int
	CacheMissTokens  int
	CompletionTokens int
	ReasoningTokens  int
}

// Add merges another accumulator into this one.
func (u *UsageTotals) Add(other UsageTotals) {
	u.PromptTokens += other.PromptTokens
	u.CacheHitTokens += other.CacheHitTokens
	u.CacheMissTokens += other.CacheMissTokens
	u.CompletionTokens += other.CompletionTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// RunStats describes one task run: how many exchanges it took, what was
// accepted or dropped, and where the state machine ended up.
type RunStats struct {
	Task       Task
	Status     TaskStatus
	Exchanges  int
	Accepted   int
	Rejected   int
	FinalCount int
	Retries    int
	Usage      UsageTotals
	Duration   time.Duration
}

// BatchStats aggregates a full sequential run over the task list.
type BatchStats struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time

	TotalTasks    int
	Completed     int
	Failed        int
	SkippedAtFull int

	Usage UsageTotals
}
