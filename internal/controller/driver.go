package controller

import (
	"context"
	"time"

	"github.com/clarigen/clarigen/internal/api"
	"github.com/clarigen/clarigen/internal/metrics"
	"github.com/clarigen/clarigen/internal/session"
)

// CompletionDriver performs one request/response exchange against the
// completion endpoint. On success the exchange is appended to the session;
// on failure the session is untouched so the caller can retry without
// double-appending.
type CompletionDriver struct {
	client    *api.Client
	collector *metrics.Collector
	model     string
}

// NewCompletionDriver wraps an API client for use by the task controller.
func NewCompletionDriver(client *api.Client, collector *metrics.Collector, model string) *CompletionDriver {
	return &CompletionDriver{
		client:    client,
		collector: collector,
		model:     model,
	}
}

// Exchange sends the session history plus the new instruction and returns
// the raw response text with its usage counters.
func (d *CompletionDriver) Exchange(ctx context.Context, sess *session.Session, instruction string, maxTokens int) (string, api.Usage, error) {
	messages := append(sess.Messages(), api.Message{Role: "user", Content: instruction})

	start := time.Now()
	raw, usage, err := d.client.ChatCompletion(ctx, messages, maxTokens)
	if d.collector != nil {
		d.collector.RecordExchange(d.model, time.Since(start), err == nil)
		d.collector.RecordTokens(usage.PromptTokens, usage.PromptCacheHitTokens,
			usage.PromptCacheMissTokens, usage.CompletionTokens,
			usage.CompletionTokensDetails.ReasoningTokens)
	}
	if err != nil {
		return "", usage, err
	}

	sess.AppendExchange(instruction, raw)
	return raw, usage, nil
}
