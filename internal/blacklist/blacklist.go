// Package blacklist scores per-ip protocol violations into tiered
// temporary or permanent bans, and rate-limits per-(channel, ip) with
// token buckets from golang.org/x/time/rate.
package blacklist

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Violation is one taxonomy entry. Each kind carries a fixed weight.
type Violation int

const (
	ViolationInvalidHandshake Violation = iota
	ViolationMalformedFrame
	ViolationBadBlock
	ViolationDuplicateFlood
)

func (v Violation) weight() int {
	switch v {
	case ViolationInvalidHandshake:
		return 1
	case ViolationMalformedFrame:
		return 1
	case ViolationBadBlock:
		return 2
	case ViolationDuplicateFlood:
		return 1
	default:
		return 1
	}
}

const (
	banThreshold5Min      = 3
	banThresholdHour      = 5
	banThresholdPermanent = 10

	violationExpiry = 24 * time.Hour
)

type violationEntry struct {
	at     time.Time
	weight int
}

type violationRecord struct {
	weightTotal int
	entries     []violationEntry
}

type Ban struct {
	until     time.Time
	permanent bool
}

// List tracks per-ip violation weight and active bans.
type List struct {
	mu         sync.Mutex
	violations map[string]*violationRecord
	bans       map[string]Ban
}

// New constructs an empty blacklist.
func New() *List {
	return &List{
		violations: make(map[string]*violationRecord),
		bans:       make(map[string]Ban),
	}
}

// IsBanned reports whether ip is currently banned at now.
func (l *List) IsBanned(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bans[ip]
	if !ok {
		return false
	}
	if b.permanent {
		return true
	}
	return now.Before(b.until)
}

// RecordViolation scores one violation against ip and applies a ban
// if the cumulative weight crosses a threshold. Returns the resulting
// ban, if any was just applied.
func (l *List) RecordViolation(ip string, v Violation, now time.Time) (Ban, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.violations[ip]
	if !ok {
		rec = &violationRecord{}
		l.violations[ip] = rec
	}
	rec.weightTotal += v.weight()
	rec.entries = append(rec.entries, violationEntry{at: now, weight: v.weight()})

	var b Ban
	switch {
	case rec.weightTotal >= banThresholdPermanent:
		b = Ban{permanent: true}
	case rec.weightTotal >= banThresholdHour:
		b = Ban{until: now.Add(time.Hour)}
	case rec.weightTotal >= banThreshold5Min:
		b = Ban{until: now.Add(5 * time.Minute)}
	default:
		return Ban{}, false
	}
	l.bans[ip] = b
	return b, true
}

// Cleanup prunes expired temporary bans and violation timestamps older
// than 24h, recomputing each ip's remaining weight.
func (l *List) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, b := range l.bans {
		if !b.permanent && now.After(b.until) {
			delete(l.bans, ip)
		}
	}
	for ip, rec := range l.violations {
		kept := rec.entries[:0]
		total := 0
		for _, e := range rec.entries {
			if now.Sub(e.at) <= violationExpiry {
				kept = append(kept, e)
				total += e.weight
			}
		}
		if len(kept) == 0 {
			delete(l.violations, ip)
			continue
		}
		rec.entries = kept
		rec.weightTotal = total
	}
}

// Channel identifies a rate-limited message category.
type Channel string

const (
	ChannelTx        Channel = "tx"
	ChannelUTXOQuery Channel = "utxo_query"
	ChannelSubscribe Channel = "subscribe"
)

// defaultLimits is the {channel: rate} table from the wire protocol's
// rate limiting policy.
var defaultLimits = map[Channel]rate.Limit{
	ChannelTx:        rate.Limit(1000),
	ChannelUTXOQuery: rate.Limit(100),
	ChannelSubscribe: rate.Every(6 * time.Second), // 10 per 60s
}

var defaultBursts = map[Channel]int{
	ChannelTx:        1000,
	ChannelUTXOQuery: 100,
	ChannelSubscribe: 10,
}

// Limiter holds one token bucket per (channel, ip).
type Limiter struct {
	mu       sync.Mutex
	limiters map[Channel]map[string]*rate.Limiter
}

// NewLimiter constructs an empty rate limiter using the default
// {tx, utxo_query, subscribe} limits.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[Channel]map[string]*rate.Limiter)}
}

// Allow reports whether one message on channel from ip is permitted
// right now, consuming a token if so.
func (lm *Limiter) Allow(channel Channel, ip string) bool {
	lm.mu.Lock()
	perIP, ok := lm.limiters[channel]
	if !ok {
		perIP = make(map[string]*rate.Limiter)
		lm.limiters[channel] = perIP
	}
	limiter, ok := perIP[ip]
	if !ok {
		limiter = rate.NewLimiter(defaultLimits[channel], defaultBursts[channel])
		perIP[ip] = limiter
	}
	lm.mu.Unlock()
	return limiter.Allow()
}
