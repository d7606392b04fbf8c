// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import "sync/atomic"

// Cache holds the most recent scan result. A scan replaces the whole result
// at once, so readers see either the previous scan or the new one.
type Cache struct {
	result atomic.Pointer[ScanResult]
}

// Load returns the cached result, or nil before the first scan.
func (c *Cache) Load() *ScanResult {
	return c.result.Load()
}

// Store replaces the cached result.
func (c *Cache) Store(r *ScanResult) {
	c.result.Store(r)
}

// Clear drops the cached result.
func (c *Cache) Clear() {
	c.result.Store(nil)
}
