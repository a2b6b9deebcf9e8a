package security

import "time"

// testSecret signs tokens in unit tests only. Do not use in production.
const testSecret = "unit-test-secret-do-not-use"

// NewTestTokenProvider returns a TokenProvider with a fixed test secret, 15m access and 24h refresh TTLs.
// For unit tests only. Callers must not use in production.
func NewTestTokenProvider(opts ...TokenOption) *TokenProvider {
	p, err := NewTokenProvider([]byte(testSecret), 15*time.Minute, 24*time.Hour, opts...)
	if err != nil {
		panic(err)
	}
	return p
}
