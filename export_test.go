// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

// CacheLen returns the number of prepared statements cached on the
// connection.
func (c *Conn) CacheLen() int {
	return c.cache.len()
}

// HasPending reports whether the connection has a pending transaction.
func (c *Conn) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// SavepointName returns the name a savepoint was started under.
func (tx *TX) SavepointName() string {
	return tx.name
}
