package usecase

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
)

const (
	DefaultEchoCapacity = 20
	DefaultEchoTTL      = 5 * time.Minute

	echoMinFuzzyLen   = 10
	echoDiceThreshold = 0.85
)

type sentMessage struct {
	normalized string
	sentAt     time.Time
}

// SelfEchoGuard remembers recently sent replies so that our own text, once it
// comes back as an inbound notification, is not answered again.
// Entries are kept newest first.
type SelfEchoGuard struct {
	mu       sync.Mutex
	entries  []sentMessage
	capacity int
	ttl      time.Duration
	clock    domain.Clock
}

// NewSelfEchoGuard creates a guard with capacity 20 and a 5 minute TTL
func NewSelfEchoGuard(clock domain.Clock) *SelfEchoGuard {
	return NewSelfEchoGuardWithLimits(clock, DefaultEchoCapacity, DefaultEchoTTL)
}

// NewSelfEchoGuardWithLimits creates a guard with explicit limits
func NewSelfEchoGuardWithLimits(clock domain.Clock, capacity int, ttl time.Duration) *SelfEchoGuard {
	if clock == nil {
		clock = domain.RealClock{}
	}
	if capacity <= 0 {
		capacity = DefaultEchoCapacity
	}
	if ttl <= 0 {
		ttl = DefaultEchoTTL
	}
	return &SelfEchoGuard{
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
	}
}

// Record remembers a sent message
func (g *SelfEchoGuard) Record(content string) {
	normalized := normalizeEcho(content)
	if normalized == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.entries = append([]sentMessage{{normalized: normalized, sentAt: now}}, g.entries...)
	g.prune(now)
}

// IsLikelyOwnMessage reports whether content matches a recently sent message,
// exactly after normalization or by bigram similarity for longer texts
func (g *SelfEchoGuard) IsLikelyOwnMessage(content string) bool {
	query := normalizeEcho(content)
	if query == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.prune(g.clock.Now())

	queryLen := utf8.RuneCountInString(query)
	for _, e := range g.entries {
		if e.normalized == query {
			return true
		}
		if queryLen > echoMinFuzzyLen && utf8.RuneCountInString(e.normalized) > echoMinFuzzyLen &&
			diceCoefficient(e.normalized, query) > echoDiceThreshold {
			return true
		}
	}
	return false
}

// Len returns the number of live entries
func (g *SelfEchoGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.clock.Now())
	return len(g.entries)
}

// prune drops expired entries from the tail, then trims to capacity. Caller holds mu.
func (g *SelfEchoGuard) prune(now time.Time) {
	n := len(g.entries)
	for n > 0 && now.Sub(g.entries[n-1].sentAt) > g.ttl {
		n--
	}
	if n > g.capacity {
		n = g.capacity
	}
	g.entries = g.entries[:n]
}

func normalizeEcho(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// diceCoefficient is 2*|A∩B| / (|A|+|B|) over character bigram sets
func diceCoefficient(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba)+len(bb) == 0 {
		return 0
	}
	shared := 0
	for k := range ba {
		if _, ok := bb[k]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ba)+len(bb))
}
