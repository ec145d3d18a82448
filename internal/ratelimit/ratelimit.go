package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the shared atomic counter the limiter runs on. Increment
// must be atomic under concurrent access from multiple processes, and must
// start the window's expiry when it creates the key. A read-then-write
// implementation is not acceptable.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	TimeToLive(ctx context.Context, key string) (time.Duration, error)
}

// Limit bounds an action type to Requests per Window.
type Limit struct {
	Requests int64
	Window   time.Duration
}

// Action types with dedicated limits. Unknown actions fall back to global.
const (
	ActionConversation = "conversation"
	ActionDeepening    = "deepening_questions"
	ActionGlobal       = "global"
)

// DefaultLimits matches the production window configuration.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ActionConversation: {Requests: 10, Window: time.Minute},
		ActionDeepening:    {Requests: 5, Window: time.Minute},
		ActionGlobal:       {Requests: 50, Window: time.Hour},
	}
}

// Limiter counts actions per user and action type in fixed windows.
type Limiter struct {
	store  CounterStore
	limits map[string]Limit
}

func NewLimiter(store CounterStore, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{store: store, limits: limits}
}

func (l *Limiter) limit(action string) Limit {
	if lim, ok := l.limits[action]; ok {
		return lim
	}
	return l.limits[ActionGlobal]
}

func key(userID int64, action string) string {
	return fmt.Sprintf("rate_limit:%d:%s", userID, action)
}

// Exceeded reports whether the user has used up the action's window. If the
// counter store is unreachable the limiter fails closed: the action is
// treated as exceeded rather than letting unmetered traffic through.
func (l *Limiter) Exceeded(ctx context.Context, userID int64, action string) (bool, error) {
	count, err := l.store.Count(ctx, key(userID, action))
	if err != nil {
		return true, fmt.Errorf("reading rate counter: %w", err)
	}
	return count >= l.limit(action).Requests, nil
}

// Record counts one action and returns the new count. The first increment
// in a window starts the window's expiry.
func (l *Limiter) Record(ctx context.Context, userID int64, action string) (int64, error) {
	count, err := l.store.Increment(ctx, key(userID, action), l.limit(action).Window)
	if err != nil {
		return 0, fmt.Errorf("incrementing rate counter: %w", err)
	}
	return count, nil
}

// TimeUntilReset returns the remaining window TTL, floored at zero.
func (l *Limiter) TimeUntilReset(ctx context.Context, userID int64, action string) time.Duration {
	ttl, err := l.store.TimeToLive(ctx, key(userID, action))
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
