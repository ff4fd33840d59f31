// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
)

// cancelManager holds the cancel func of the turn in flight.
type cancelManager struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *cancelManager) set(fn context.CancelFunc) {
	c.mu.Lock()
	c.cancel = fn
	c.mu.Unlock()
}

// cancelTurn cancels the turn in flight and reports whether there was one.
func (c *cancelManager) cancelTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	c.cancel = nil
	return true
}

func (c *cancelManager) clear() {
	c.set(nil)
}
