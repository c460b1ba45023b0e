// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Session states.
const (
	sessionIdle int32 = iota
	sessionBusy
	sessionRetired
)

// ErrPoolStopped is returned by Pool.Run after Stop.
var ErrPoolStopped = errors.New("julia pool is stopped")

// session is one pooled interpreter with its own worker.
type session struct {
	id         uint32
	executor   *Executor
	engine     *Engine
	dispatcher *Dispatcher

	state        int32  // Atomic: sessionIdle, sessionBusy or sessionRetired
	executions   uint32 // Atomic: number of Run calls served
	lastUsedNano int64  // Atomic: end of the last Run, nanoseconds
}

func (s *session) getExecutions() uint32 {
	return atomic.LoadUint32(&s.executions)
}

func (s *session) getLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastUsedNano))
}

// Pool keeps a bounded set of independent engines, each on its own worker
// and runtime, and lends them out one caller at a time.
type Pool struct {
	factory       RuntimeFactory
	engineOptions []func(*Engine)
	logger        *slog.Logger

	minPoolSize   uint32
	maxPoolSize   uint32
	sessionTTL    time.Duration
	maxExecutions uint32

	sessions     sync.Map      // Session ID to *session
	idle         chan *session // Sessions ready to be borrowed
	sessionCount uint32        // Atomic: live sessions, idle or busy
	idCounter    uint32        // Atomic: session ID generator

	started       int32 // Atomic: set once the cleanup loop runs
	stopOnce      sync.Once
	stopCh        chan struct{} // Closed by Stop
	replenishChan chan struct{} // Signals the cleanup loop to refill to minPoolSize
	cleanupDone   chan struct{}
}

// NewPool creates a pool producing runtimes with factory. Call Start before Run.
func NewPool(factory RuntimeFactory, opts ...func(*Pool)) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("runtime factory must be provided")
	}
	p := &Pool{
		factory:       factory,
		logger:        slog.Default(),
		minPoolSize:   1,
		maxPoolSize:   4,
		sessionTTL:    time.Minute,
		stopCh:        make(chan struct{}),
		replenishChan: make(chan struct{}, 1),
		cleanupDone:   make(chan struct{}),
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(p)
	}
	if p.maxPoolSize == 0 {
		return nil, fmt.Errorf("maxPoolSize must be greater than 0")
	}
	if p.minPoolSize > p.maxPoolSize {
		return nil, fmt.Errorf("minPoolSize (%d) cannot be greater than maxPoolSize (%d)", p.minPoolSize, p.maxPoolSize)
	}
	p.idle = make(chan *session, p.maxPoolSize)
	return p, nil
}

// WithMinPoolSize sets the number of sessions kept alive.
func WithMinPoolSize(size uint32) func(*Pool) {
	return func(p *Pool) {
		p.minPoolSize = size
	}
}

// WithMaxPoolSize sets the upper bound of concurrent sessions.
func WithMaxPoolSize(size uint32) func(*Pool) {
	return func(p *Pool) {
		p.maxPoolSize = size
	}
}

// WithSessionTTL sets how long a session may stay idle before it is retired.
// Zero disables idle retirement.
func WithSessionTTL(ttl time.Duration) func(*Pool) {
	return func(p *Pool) {
		p.sessionTTL = ttl
	}
}

// WithMaxExecutions retires a session after it served this many Run calls.
// Zero means unlimited.
func WithMaxExecutions(n uint32) func(*Pool) {
	return func(p *Pool) {
		p.maxExecutions = n
	}
}

// WithEngineOptions sets the options applied to every session engine.
func WithEngineOptions(opts ...func(*Engine)) func(*Pool) {
	return func(p *Pool) {
		p.engineOptions = append(p.engineOptions, opts...)
	}
}

// WithPoolLogger configures the pool logger. A nil logger disables logging.
func WithPoolLogger(logger *slog.Logger) func(*Pool) {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Start creates the minimum number of sessions and the cleanup loop.
func (p *Pool) Start() error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return fmt.Errorf("julia pool already started")
	}
	go p.retireSessions()

	for i := uint32(0); i < p.minPoolSize; i++ {
		s, err := p.createSession()
		if err != nil {
			return fmt.Errorf("failed to create session %d: %w", i, err)
		}
		p.idle <- s
	}

	if p.logger != nil {
		p.logger.Debug("Julia pool started",
			"minPoolSize", p.minPoolSize,
			"maxPoolSize", p.maxPoolSize,
			"sessionTTL", p.sessionTTL,
			"maxExecutions", p.maxExecutions,
			"initialSessions", p.Size(),
		)
	}
	return nil
}

// Size returns the number of live sessions.
func (p *Pool) Size() int {
	return int(atomic.LoadUint32(&p.sessionCount))
}

// Run borrows a session, runs fn with it and returns the session after a
// reset, so every call starts from a clean interpreter.
func (p *Pool) Run(fn func(Client) error) error {
	s, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.release(s)
	return fn(s.dispatcher)
}

// Stop retires every session. Running Run calls finish against stopped
// sessions and fail with a KindClosed error.
func (p *Pool) Stop() error {
	var errs []error
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if atomic.LoadInt32(&p.started) == 1 {
			<-p.cleanupDone
		}

		p.sessions.Range(func(key, value any) bool {
			s := value.(*session)
			if _, loaded := p.sessions.LoadAndDelete(key); !loaded {
				return true
			}
			atomic.StoreInt32(&s.state, sessionRetired)
			atomic.AddUint32(&p.sessionCount, ^uint32(0)) // -1
			if err := s.executor.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("session %d: %w", s.id, err))
			}
			return true
		})

		if p.logger != nil {
			p.logger.Debug("Julia pool stopped")
		}
	})
	return errors.Join(errs...)
}

// createSession starts a worker, creates a runtime and initializes its engine.
func (p *Pool) createSession() (*session, error) {
	newCount := atomic.AddUint32(&p.sessionCount, 1)
	if newCount > p.maxPoolSize {
		atomic.AddUint32(&p.sessionCount, ^uint32(0)) // -1
		return nil, fmt.Errorf("max pool size reached")
	}

	id := atomic.AddUint32(&p.idCounter, 1)
	name := "julia-session-" + strconv.FormatUint(uint64(id), 10)
	executor := NewExecutor(
		WithExecutorName(name),
		WithExecutorLogger(p.logger),
	)
	if err := executor.Start(); err != nil {
		atomic.AddUint32(&p.sessionCount, ^uint32(0)) // -1
		return nil, err
	}

	engine, err := Call(executor, func() (*Engine, error) {
		rt, err := p.factory()
		if err != nil {
			return nil, newInitError(fmt.Errorf("failed to create runtime: %w", err))
		}
		// Sessions capture output in their own directory.
		opts := append(append([]func(*Engine){}, p.engineOptions...), func(e *Engine) {
			e.tempDir = filepath.Join(e.tempDir, name)
		})
		return NewEngine(executor, rt, opts...)
	})
	if err != nil {
		_ = executor.Stop()
		atomic.AddUint32(&p.sessionCount, ^uint32(0)) // -1
		return nil, fmt.Errorf("session initialization failed: %w", err)
	}

	s := &session{
		id:           id,
		executor:     executor,
		engine:       engine,
		dispatcher:   NewDispatcher(engine),
		state:        sessionIdle,
		lastUsedNano: time.Now().UnixNano(),
	}
	p.sessions.Store(id, s)

	// Stop may have swept the sessions while this one was initializing.
	select {
	case <-p.stopCh:
		if _, loaded := p.sessions.LoadAndDelete(id); loaded {
			atomic.StoreInt32(&s.state, sessionRetired)
			atomic.AddUint32(&p.sessionCount, ^uint32(0)) // -1
		}
		if err := executor.Stop(); err != nil && p.logger != nil {
			p.logger.Error("Failed to stop session", "session", id, "error", err)
		}
		return nil, ErrPoolStopped
	default:
	}
	return s, nil
}

// acquire returns an idle session, creating one when under maxPoolSize and
// waiting otherwise.
func (p *Pool) acquire() (*session, error) {
	for {
		select {
		case <-p.stopCh:
			return nil, ErrPoolStopped
		default:
		}

		select {
		case s := <-p.idle:
			if atomic.CompareAndSwapInt32(&s.state, sessionIdle, sessionBusy) {
				return s, nil
			}
			continue
		default:
		}

		if atomic.LoadUint32(&p.sessionCount) < p.maxPoolSize {
			if p.logger != nil {
				p.logger.Debug("Creating new session due to high load",
					"currentSessions", p.Size(),
					"maxPoolSize", p.maxPoolSize)
			}
			s, err := p.createSession()
			if err == nil {
				atomic.StoreInt32(&s.state, sessionBusy)
				return s, nil
			}
			if p.Size() == 0 {
				return nil, err
			}
		}

		select {
		case s := <-p.idle:
			if atomic.CompareAndSwapInt32(&s.state, sessionIdle, sessionBusy) {
				return s, nil
			}
		case <-p.stopCh:
			return nil, ErrPoolStopped
		}
	}
}

// release resets the session and returns it to the idle set, or retires it
// when the reset failed or its execution budget is spent.
func (p *Pool) release(s *session) {
	executions := atomic.AddUint32(&s.executions, 1)
	atomic.StoreInt64(&s.lastUsedNano, time.Now().UnixNano())

	reason := ""
	if err := s.dispatcher.Reset(); err != nil {
		reason = "reset failed"
		if p.logger != nil {
			p.logger.Error("Session reset failed", "session", s.id, "error", err)
		}
	} else if p.maxExecutions > 0 && executions >= p.maxExecutions {
		reason = "max executions reached"
	}

	if reason != "" {
		p.retire(s, reason)
		p.signalReplenish()
		return
	}

	select {
	case <-p.stopCh:
		p.retire(s, "pool stopped")
		return
	default:
	}
	if !atomic.CompareAndSwapInt32(&s.state, sessionBusy, sessionIdle) {
		return
	}
	select {
	case p.idle <- s:
	case <-p.stopCh:
		p.retire(s, "pool stopped")
	}
}

// retire removes the session from the pool and stops its worker.
func (p *Pool) retire(s *session, reason string) {
	atomic.StoreInt32(&s.state, sessionRetired)
	if _, loaded := p.sessions.LoadAndDelete(s.id); !loaded {
		return
	}
	remaining := atomic.AddUint32(&p.sessionCount, ^uint32(0)) // -1

	go func() {
		if err := s.executor.Stop(); err != nil && p.logger != nil {
			p.logger.Error("Failed to stop session", "session", s.id, "error", err)
		}
		if p.logger != nil {
			p.logger.Debug("Session removed",
				"session", s.id,
				"reason", reason,
				"executions", s.getExecutions(),
				"remainingSessions", remaining)
		}
	}()
}

func (p *Pool) signalReplenish() {
	select {
	case p.replenishChan <- struct{}{}:
	default:
	}
}

// retireSessions runs the background cleanup of idle sessions.
func (p *Pool) retireSessions() {
	defer close(p.cleanupDone)

	interval := time.Minute
	if p.sessionTTL > 0 {
		interval = p.sessionTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performCleanup()
			p.replenish()
		case <-p.replenishChan:
			p.replenish()
		case <-p.stopCh:
			return
		}
	}
}

// performCleanup retires sessions idle longer than sessionTTL, keeping at
// least minPoolSize sessions.
func (p *Pool) performCleanup() {
	if p.sessionTTL <= 0 {
		return
	}
	now := time.Now()
	for i, n := 0, len(p.idle); i < n; i++ {
		var s *session
		select {
		case s = <-p.idle:
		default:
			return
		}
		if atomic.LoadInt32(&s.state) != sessionIdle {
			continue
		}
		expired := now.Sub(s.getLastUsed()) > p.sessionTTL
		if expired && atomic.LoadUint32(&p.sessionCount) > p.minPoolSize &&
			atomic.CompareAndSwapInt32(&s.state, sessionIdle, sessionRetired) {
			p.retire(s, "idle timeout")
			continue
		}
		select {
		case p.idle <- s:
		default:
			p.retire(s, "pool full")
		}
	}
}

// replenish creates sessions until minPoolSize is reached.
func (p *Pool) replenish() {
	for atomic.LoadUint32(&p.sessionCount) < p.minPoolSize {
		s, err := p.createSession()
		if err != nil {
			if p.logger != nil {
				p.logger.Error("Failed to create replenishment session", "error", err)
			}
			return
		}
		select {
		case p.idle <- s:
		case <-p.stopCh:
			p.retire(s, "pool stopped")
			return
		}
	}
}
