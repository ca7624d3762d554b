package resilience

import "time"

// StoreRetryConfig returns the retry policy for warehouse round trips.
// attempts <= 0 keeps the default. Retries are logged under component/op.
func StoreRetryConfig(attempts int, component, op string) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.InitialBackoff = 200 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Second
	cfg.OnRetry = RetryLogger(component, op)
	return cfg
}
