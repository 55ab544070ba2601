package retry

import (
	"hash/fnv"
	"strconv"
	"time"

	"github.com/imrishuroy/go-clinic-bookingflow/internal/failure"
)

// Action is the decision returned by a Policy.
type Action struct {
	GiveUp bool
	Delay  time.Duration
}

// RetryAfter returns an action that retries after d.
func RetryAfter(d time.Duration) Action { return Action{Delay: d} }

// GiveUp returns an action that stops retrying.
func GiveUp() Action { return Action{GiveUp: true} }

// Policy decides what to do after a failed attempt. attempt is 1-based and
// counts the attempt that just failed.
type Policy interface {
	NextAction(stepName string, attempt int, class failure.Class) Action
}

// Exponential is exponential backoff with deterministic jitter. It holds no
// mutable state; the same inputs always produce the same Action.
type Exponential struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterFraction is the share of the computed delay that may be added as
	// jitter, in [0,1].
	JitterFraction float64
	// PerStep overrides MaxAttempts for a named step.
	PerStep map[string]int
}

// Default returns the policy used when none is configured: 3 attempts,
// 100ms base, 2s cap, 20% jitter.
func Default() Exponential {
	return Exponential{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		JitterFraction: 0.2,
	}
}

// NextAction implements Policy.
func (p Exponential) NextAction(stepName string, attempt int, class failure.Class) Action {
	if class != failure.ClassTransient {
		return GiveUp()
	}
	if attempt >= p.attemptsFor(stepName) {
		return GiveUp()
	}
	return RetryAfter(p.backoff(stepName, attempt))
}

// Attempts returns the attempt cap for stepName.
func (p Exponential) Attempts(stepName string) int {
	return p.attemptsFor(stepName)
}

func (p Exponential) attemptsFor(stepName string) int {
	if n, ok := p.PerStep[stepName]; ok && n > 0 {
		return n
	}
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Exponential) backoff(stepName string, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.JitterFraction > 0 && delay > 0 {
		span := time.Duration(float64(delay) * p.JitterFraction)
		if span > 0 {
			delay += time.Duration(jitterSeed(stepName, attempt) % uint64(span))
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func jitterSeed(stepName string, attempt int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(stepName))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.Itoa(attempt)))
	return h.Sum64()
}
