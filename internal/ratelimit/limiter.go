// Package ratelimit admits requests per (user, endpoint) inside a rolling window.
// Check-and-increment is a single atomic operation in the backing store so
// independent relay instances share one budget.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultMax    = 20
	DefaultWindow = 60 * time.Second
)

type Limiter interface {
	// Admit records the request and returns true, or returns false when the user
	// already has Max admitted requests inside the trailing window.
	Admit(ctx context.Context, userID, endpoint string) (bool, error)
}

type Policy struct {
	Max    int
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}
