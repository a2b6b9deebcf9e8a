package domain

import (
	"testing"
	"time"
)

func TestRefreshToken_IsActiveAndPurgeable(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name          string
		rec           RefreshToken
		wantActive    bool
		wantPurgeable bool
	}{
		{"valid future", RefreshToken{IsValid: true, ExpiresAt: now.Add(time.Hour)}, true, false},
		{"valid expired", RefreshToken{IsValid: true, ExpiresAt: now.Add(-time.Second)}, false, true},
		{"invalid future", RefreshToken{IsValid: false, ExpiresAt: now.Add(time.Hour)}, false, true},
		{"valid expiring now", RefreshToken{IsValid: true, ExpiresAt: now}, false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.IsActive(now); got != tc.wantActive {
				t.Errorf("IsActive = %v, want %v", got, tc.wantActive)
			}
			if got := tc.rec.Purgeable(now); got != tc.wantPurgeable {
				t.Errorf("Purgeable = %v, want %v", got, tc.wantPurgeable)
			}
			if tc.rec.IsActive(now) && tc.rec.Purgeable(now) {
				t.Error("an active record must never be purgeable")
			}
		})
	}
}
