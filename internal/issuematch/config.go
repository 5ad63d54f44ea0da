package issuematch

import "time"

// Weights are the four signal weights used to compose confidence. They are
// expected to sum to 1, though Matcher does not enforce this beyond the
// config-layer validation that loads it (see internal/config).
type Weights struct {
	Type     float64
	Msg      float64
	Frames   float64
	Semantic float64
}

// DefaultWeights is the authoritative four-signal model: type_match,
// msg_match, frame_overlap, semantic. It supersedes the three-signal
// (exact/stack/semantic, 0.5/0.3/0.2) scheme the Python prototype shipped;
// that scheme survives only in the stop-word list and scoring texture
// carried over into extractKeyTerms and the scoring helpers below.
var DefaultWeights = Weights{Type: 0.3, Msg: 0.4, Frames: 0.2, Semantic: 0.1}

// Config controls matcher behavior; loaded from internal/config in
// production, built by hand in tests.
type Config struct {
	ConfidenceThreshold float64
	MaxSearchResults    int
	SearchCacheTTL      time.Duration
	IncludeClosed       bool
	Weights             Weights
}

// DefaultConfig mirrors the distilled spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		MaxSearchResults:    10,
		SearchCacheTTL:      300 * time.Second,
		IncludeClosed:       false,
		Weights:             DefaultWeights,
	}
}
