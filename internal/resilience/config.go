package resilience

import (
	"time"
)

// FromConfig converts config values to a RetryConfig. Zero values keep
// the defaults.
func FromConfig(maxAttempts, baseDelayMs, maxDelayMs int, multiplier float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if baseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	return cfg
}

// ValidateRetry rejects retry settings that cannot be applied.
func ValidateRetry(field string, cfg RetryConfig) error {
	switch {
	case cfg.MaxAttempts < 0:
		return NewConfigurationError(field+".max_attempts", "must not be negative")
	case cfg.BaseDelay < 0:
		return NewConfigurationError(field+".base_delay", "must not be negative")
	case cfg.MaxDelay < 0:
		return NewConfigurationError(field+".max_delay", "must not be negative")
	case cfg.BaseDelay > 0 && cfg.MaxDelay > 0 && cfg.MaxDelay < cfg.BaseDelay:
		return NewConfigurationError(field+".max_delay", "must not be smaller than base delay")
	case cfg.Multiplier != 0 && cfg.Multiplier < 1:
		return NewConfigurationError(field+".multiplier", "must be at least 1")
	}
	return nil
}

// FromBreakerConfig converts config values to a BreakerConfig.
func FromBreakerConfig(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
