// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package limits

import (
	"context"
)

type Semaphore struct {
	n int
	c chan struct{}
}

func NewSempahore(n int) *Semaphore {
	return &Semaphore{
		n: n,
		c: make(chan struct{}, n),
	}
}

func UnlimitedSemaphore() *Semaphore {
	return NewSempahore(0)
}

func (s *Semaphore) Reserve(ctx context.Context) error {
	if s.n == 0 {
		return nil
	}
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) Release() {
	if s.n == 0 {
		return
	}
	select {
	case <-s.c:
	default:
		panic("semaphore would block on release?")
	}
}
