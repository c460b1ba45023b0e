// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"fmt"
	"sync"

	"github.com/petermattis/goid"
)

// ReentrantLock is a named mutual-exclusion lock that may be acquired again by
// the goroutine already holding it. Every hold must be released by a matching Unlock.
type ReentrantLock struct {
	name  string
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64 // goroutine id of the holder, 0 when free
	holds int   // number of nested holds by owner
}

// NewReentrantLock creates a new unlocked lock with the given name.
func NewReentrantLock(name string) *ReentrantLock {
	l := &ReentrantLock{name: name}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Name returns the lock name.
func (l *ReentrantLock) Name() string {
	return l.name
}

// Lock blocks until the calling goroutine holds the lock.
func (l *ReentrantLock) Lock() {
	id := goid.Get()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == id {
		l.holds++
		return
	}
	for l.owner != 0 {
		l.cond.Wait()
	}
	l.owner = id
	l.holds = 1
}

// TryLock acquires the lock if it is free or already held by the caller.
func (l *ReentrantLock) TryLock() bool {
	id := goid.Get()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == id {
		l.holds++
		return true
	}
	if l.owner != 0 {
		return false
	}
	l.owner = id
	l.holds = 1
	return true
}

// Unlock releases one hold. It panics when the caller is not the holder.
func (l *ReentrantLock) Unlock() {
	id := goid.Get()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != id {
		panic(fmt.Sprintf("juliaexecutor: unlock of %s by non-owner goroutine %d", l.name, id))
	}
	l.holds--
	if l.holds == 0 {
		l.owner = 0
		l.cond.Signal()
	}
}

// HeldByCurrent reports whether the calling goroutine holds the lock.
func (l *ReentrantLock) HeldByCurrent() bool {
	id := goid.Get()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == id
}
