package blacklist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordViolationEscalatesBanTier(t *testing.T) {
	l := New()
	now := time.Unix(1_000_000, 0)
	ip := "10.0.0.9"

	l.RecordViolation(ip, ViolationInvalidHandshake, now)
	l.RecordViolation(ip, ViolationInvalidHandshake, now)
	require.False(t, l.IsBanned(ip, now))

	b, banned := l.RecordViolation(ip, ViolationInvalidHandshake, now)
	require.True(t, banned)
	require.False(t, b.permanent)
	require.True(t, l.IsBanned(ip, now))
	require.False(t, l.IsBanned(ip, now.Add(6*time.Minute)))
}

func TestRecordViolationPermanentAtTenWeight(t *testing.T) {
	l := New()
	now := time.Unix(2_000_000, 0)
	ip := "10.0.0.5"
	for i := 0; i < 5; i++ {
		l.RecordViolation(ip, ViolationBadBlock, now) // weight 2 each, total 10
	}
	require.True(t, l.IsBanned(ip, now.Add(365*24*time.Hour)))
}

func TestCleanupPrunesExpiredViolations(t *testing.T) {
	l := New()
	base := time.Unix(3_000_000, 0)
	ip := "10.0.0.2"
	l.RecordViolation(ip, ViolationMalformedFrame, base)

	l.Cleanup(base.Add(25 * time.Hour))
	l.mu.Lock()
	_, ok := l.violations[ip]
	l.mu.Unlock()
	require.False(t, ok)
}

func TestLimiterAllowsWithinBurstThenBlocks(t *testing.T) {
	lm := NewLimiter()
	allowed := 0
	for i := 0; i < 15; i++ {
		if lm.Allow(ChannelSubscribe, "10.0.0.1") {
			allowed++
		}
	}
	require.LessOrEqual(t, allowed, defaultBursts[ChannelSubscribe])
}
