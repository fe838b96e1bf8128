// Package quota throttles outbound calls to the spreadsheet service.
//
// A Governor admits at most Budget() calls per rolling window. Callers that
// would exceed the budget are suspended until the window elapses. When the
// remote side still answers with a rate-limit signal, ReportError imposes a
// fixed cooldown and restarts the window.
package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxCalls = 100
	DefaultBuffer   = 10
	DefaultWindow   = 60 * time.Second
	DefaultCooldown = 60 * time.Second
)

// ErrRateLimited marks an error returned by the remote service for quota reasons.
// Clients wrap provider errors with it so the Governor can recognise them.
var ErrRateLimited = errors.New("remote rate limit exceeded")

// Config 限流参数
type Config struct {
	MaxCalls int           // 服务端每窗口允许的调用数
	Buffer   int           // 预留余量，实际预算 = MaxCalls - Buffer
	Window   time.Duration // 滚动窗口长度
	Cooldown time.Duration // 命中限流后的固定冷却时长
}

func (c Config) withDefaults() Config {
	if c.MaxCalls <= 0 {
		c.MaxCalls = DefaultMaxCalls
	}
	if c.Buffer < 0 || c.Buffer >= c.MaxCalls {
		c.Buffer = 0
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Governor is safe for concurrent use. One instance is shared by every
// component that talks to the same remote service.
type Governor struct {
	mu          sync.Mutex
	clock       Clock
	budget      int
	window      time.Duration
	cooldown    time.Duration
	count       int
	windowStart time.Time
}

// NewGovernor creates a governor. A nil clock means RealClock.
func NewGovernor(cfg Config, clock Clock) *Governor {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = RealClock()
	}
	return &Governor{
		clock:       clock,
		budget:      cfg.MaxCalls - cfg.Buffer,
		window:      cfg.Window,
		cooldown:    cfg.Cooldown,
		windowStart: clock.Now(),
	}
}

// Acquire blocks until one more call fits in the current window.
// It only fails when ctx is cancelled while waiting.
func (g *Governor) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.clock.Now()
		if now.Sub(g.windowStart) >= g.window {
			g.windowStart = now
			g.count = 0
		}
		if g.count < g.budget {
			g.count++
			g.mu.Unlock()
			return nil
		}
		wait := g.window - now.Sub(g.windowStart)
		g.mu.Unlock()

		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// ReportError inspects err for a rate-limit signal. On a match it suspends
// the caller for the cooldown, restarts the window and returns true so the
// caller may retry. Any other error yields false and is left to the caller.
//
// The cooldown applies to every caller: the window is marked exhausted until
// it ends, so concurrent Acquire calls wait as well.
func (g *Governor) ReportError(ctx context.Context, err error) bool {
	if !IsRateLimit(err) {
		return false
	}
	g.mu.Lock()
	g.count = g.budget
	// 当前窗口恰好在冷却结束时到期
	g.windowStart = g.clock.Now().Add(g.cooldown - g.window)
	g.mu.Unlock()

	if serr := g.clock.Sleep(ctx, g.cooldown); serr != nil {
		return false
	}
	g.mu.Lock()
	g.windowStart = g.clock.Now()
	g.count = 0
	g.mu.Unlock()
	return true
}

// Budget returns the number of calls admitted per window.
func (g *Governor) Budget() int {
	return g.budget
}

// Snapshot 当前窗口状态，仅用于诊断
type Snapshot struct {
	Count       int           `json:"count"`
	Budget      int           `json:"budget"`
	Window      time.Duration `json:"window"`
	WindowStart time.Time     `json:"window_start"`
}

func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Count:       g.count,
		Budget:      g.budget,
		Window:      g.window,
		WindowStart: g.windowStart,
	}
}

// IsRateLimit reports whether err carries a quota / HTTP 429 indication.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"error 429", "429 too many requests", "quota exceeded", "rate limit", "ratelimitexceeded", "resource_exhausted"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
