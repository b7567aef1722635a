package config

// Output-token ceilings by model class
const (
	// MaxOutputTokensStandard is the per-exchange output ceiling for standard models
	MaxOutputTokensStandard = 8000
	// MaxOutputTokensReasoning is the per-exchange output ceiling for reasoning models
	MaxOutputTokensReasoning = 64000
	// DefaultContextSize is the session context ceiling, leaving headroom below
	// the endpoint's 128K context window
	DefaultContextSize = 110000
	// DefaultReasoningReserve is the fixed token reserve for the reasoning
	// phase of a reasoning-class exchange
	DefaultReasoningReserve = 5000
	// DefaultTokensPerRecord is the per-record estimate for round counts
	// outside the configured table
	DefaultTokensPerRecord = 1000
)

// DefaultSummaryMarker is the sentinel prefix every final responder turn must
// begin with.
const DefaultSummaryMarker = "【完整请求总结】"

// defaultTokensPerRound is the empirical tokens-per-record table, measured
// over generated samples at each round count.
func defaultTokensPerRound() map[string]int {
	return map[string]int{
		"1": 365,
		"2": 344,
		"3": 354,
		"4": 481,
		"5": 425,
	}
}
