package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsessions/backend/internal/session/domain"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func rec(id string, lastUsedOffset time.Duration) *domain.RefreshToken {
	return &domain.RefreshToken{ID: id, Token: "tok-" + id, IsValid: true, LastUsedAt: base.Add(lastUsedOffset)}
}

func ids(recs []*domain.RefreshToken) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestAdmitNewSession_UnderCap(t *testing.T) {
	active := []*domain.RefreshToken{rec("b", 2*time.Minute), rec("a", time.Minute)}
	d := AdmitNewSession(active, 3)
	assert.Empty(t, d.Evict)

	assert.Empty(t, AdmitNewSession(nil, 1).Evict)
}

func TestAdmitNewSession_AtCapEvictsLeastRecentlyUsed(t *testing.T) {
	active := []*domain.RefreshToken{rec("c", 3*time.Minute), rec("b", 2*time.Minute), rec("a", time.Minute)}
	d := AdmitNewSession(active, 3)
	require.Len(t, d.Evict, 1)
	assert.Equal(t, "a", d.Evict[0].ID)
}

func TestAdmitNewSession_OvershootDrains(t *testing.T) {
	active := []*domain.RefreshToken{
		rec("e", 5*time.Minute), rec("d", 4*time.Minute), rec("c", 3*time.Minute),
		rec("b", 2*time.Minute), rec("a", time.Minute),
	}
	d := AdmitNewSession(active, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(d.Evict))
}

func TestAdmitNewSession_CapOfOne(t *testing.T) {
	active := []*domain.RefreshToken{rec("a", 0)}
	d := AdmitNewSession(active, 1)
	assert.Equal(t, []string{"a"}, ids(d.Evict))

	d = AdmitNewSession(active, 0)
	assert.Equal(t, []string{"a"}, ids(d.Evict), "non-positive cap behaves as 1")
}

func TestSortByRecency_TieBreakByID(t *testing.T) {
	sessions := []*domain.RefreshToken{
		rec("0001", 0), rec("0003", 0), rec("0002", time.Minute), rec("0000", -time.Minute),
	}
	SortByRecency(sessions)
	assert.Equal(t, []string{"0002", "0003", "0001", "0000"}, ids(sessions))

	d := AdmitNewSession(sessions[:3], 3)
	require.Len(t, d.Evict, 1)
	assert.Equal(t, "0001", d.Evict[0].ID, "among equal lastUsedAt the lower id is evicted")
}

func TestAdmitNewSession_EvictsSmallestLastUsed(t *testing.T) {
	// Property: the victim always has the minimum LastUsedAt of the snapshot.
	for n := 1; n <= 6; n++ {
		active := make([]*domain.RefreshToken, 0, n)
		for i := 0; i < n; i++ {
			active = append(active, rec(string(rune('a'+i)), time.Duration((i*7)%5)*time.Minute))
		}
		SortByRecency(active)
		d := AdmitNewSession(active, n)
		require.Len(t, d.Evict, 1)
		for _, s := range active {
			assert.False(t, s.LastUsedAt.Before(d.Evict[0].LastUsedAt), "victim must be least recently used")
		}
	}
}
