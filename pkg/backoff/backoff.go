// Package backoff 提供调用方驱动的重连间隔策略.
// 会话核心本身不做自动重试, 由上层 (cmd/chat) 决定何时再次 Connect.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"go-chat-session/pkg/config"
)

type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	MaxAttempts  int // 0 表示不限次数
}

func FromConfig(c config.BackoffConfig) Policy {
	return Policy{
		InitialDelay: time.Duration(c.InitialDelayMs) * time.Millisecond,
		Multiplier:   c.Multiplier,
		MaxDelay:     time.Duration(c.MaxDelayMs) * time.Millisecond,
		Jitter:       c.Jitter,
		MaxAttempts:  c.MaxAttempts,
	}
}

// Delay 返回第 attempt 次重试 (从 1 开始) 之前的等待时间
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || p.InitialDelay <= 0 {
		return p.jitter(p.InitialDelay, rng)
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return p.jitter(time.Duration(delay), rng)
}

// Exhausted 判断是否已用完重试次数
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

func (p Policy) jitter(d time.Duration, rng *rand.Rand) time.Duration {
	if !p.Jitter || d <= 0 {
		return d
	}
	f := 0.5
	if rng != nil {
		f = 0.5 + rng.Float64()
	}
	return time.Duration(float64(d) * f)
}
