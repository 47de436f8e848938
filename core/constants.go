package core

import "time"

// Defaults mirrored from §4.2/§4.3/§4.8/§4.10.
const (
	DefaultMaxRetries          = 3
	DefaultBaseDelay           = time.Second
	DefaultMaxDelay            = 32 * time.Second
	DefaultExpBase             = 2.0
	MinRetryDelay              = 100 * time.Millisecond

	DefaultFailureThreshold  = 5
	DefaultCooldown          = 60 * time.Second
	DefaultHalfOpenMaxCalls  = 1

	DefaultMaxConcurrentEvaluations = 10
	DefaultJudgeTimeout             = 60 * time.Second

	DefaultSimilarityThreshold = 0.85
	DefaultMinScore            = 0.7

	DefaultDowngradeThreshold = 0.4
	DefaultUpgradeThreshold   = 0.8
)
