// Package results remembers the most recent submission so it can be recalled later.
package results

import (
	"errors"
	"sync/atomic"

	"github.com/mattjoyce/pxshell/internal/remote"
)

// ErrNoPreviousResult is returned by FetchLast before anything was stored.
var ErrNoPreviousResult = errors.New("no previous result")

type entry struct {
	handle remote.Handle
}

// Cache holds the last submitted handle. Older handles are simply replaced, never cancelled.
type Cache struct {
	last atomic.Pointer[entry]
	ns   remote.Namespace
}

// NewCache creates a cache. ns receives save-name bindings and may be nil.
func NewCache(ns remote.Namespace) *Cache {
	return &Cache{ns: ns}
}

// Store makes h the last result and binds it under saveName when one is given.
func (c *Cache) Store(h remote.Handle, saveName string) {
	c.last.Store(&entry{handle: h})
	if saveName != "" && c.ns != nil {
		c.ns.Bind(saveName, h)
	}
}

// FetchLast returns the most recently stored handle.
func (c *Cache) FetchLast() (remote.Handle, error) {
	e := c.last.Load()
	if e == nil {
		return nil, ErrNoPreviousResult
	}
	return e.handle, nil
}
