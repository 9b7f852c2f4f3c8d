// Package session implements the catalogue session pool: a bounded set of
// authenticated sessions for a single configured identity, borrowed by the request
// orchestrator for the lifetime of one catalogue call. The pool is the one piece of
// shared mutable state in the gateway; a mutex guards the free list and a counting
// semaphore bounds outstanding borrows.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icatgateway/gateway/internal/icatclient"
)

// ErrPoolExhausted is returned when Borrow times out waiting for a free session.
var ErrPoolExhausted = errors.New("session: pool exhausted")

// Session wraps a catalogue session handle with the bookkeeping the pool needs to
// decide when it is due for refresh.
type Session struct {
	icatclient.Session
}

func (s *Session) dueForRefresh(threshold time.Duration) bool {
	remaining := time.Duration(s.RemainingMinutes) * time.Minute
	return remaining <= threshold
}

// Config parametrises a Pool for a single identity.
type Config struct {
	Mechanism         string
	Credentials       map[string]string
	InitSize          int
	MaxSize           int
	BorrowTimeout     time.Duration
	RefreshThreshold  time.Duration
	MaintenanceTick   time.Duration
}

// Pool owns up to Config.MaxSize sessions for one identity.
type Pool struct {
	client *icatclient.Client
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	free    []*Session
	created int

	sem chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Pool and eagerly authenticates Config.InitSize sessions so the
// first requests do not pay catalogue handshake latency.
func New(ctx context.Context, client *icatclient.Client, cfg Config, logger *slog.Logger) (*Pool, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("session: max size must be positive")
	}
	if cfg.InitSize > cfg.MaxSize {
		cfg.InitSize = cfg.MaxSize
	}

	p := &Pool{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "session_pool")),
		sem:    make(chan struct{}, cfg.MaxSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	for i := 0; i < cfg.InitSize; i++ {
		s, err := p.authenticate(ctx)
		if err != nil {
			return nil, fmt.Errorf("warming up session pool: %w", err)
		}
		p.free = append(p.free, s)
	}

	p.logger.Info("session pool warmed up", slog.Int("init_size", len(p.free)), slog.Int("max_size", cfg.MaxSize))
	return p, nil
}

func (p *Pool) authenticate(ctx context.Context) (*Session, error) {
	raw, err := p.client.Login(ctx, p.cfg.Mechanism, p.cfg.Credentials)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return &Session{Session: raw}, nil
}

// Borrow acquires a session, blocking up to Config.BorrowTimeout if the pool has no
// free session and is already at MaxSize outstanding borrows.
func (p *Pool) Borrow(ctx context.Context) (*Session, error) {
	timer := time.NewTimer(p.cfg.BorrowTimeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
	case <-timer.C:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := p.take(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}
	return s, nil
}

func (p *Pool) take(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	var s *Session
	if n := len(p.free); n > 0 {
		s = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if s == nil {
		// The semaphore already bounds concurrent holders to MaxSize, so a nil
		// free-list pop here means the identity simply has no idle session left
		// to reuse right now; authenticate a new one.
		return p.authenticate(ctx)
	}

	if s.dueForRefresh(p.cfg.RefreshThreshold) {
		if err := p.refresh(ctx, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *Pool) refresh(ctx context.Context, s *Session) error {
	remaining, err := p.client.Refresh(ctx, s.ID)
	if err != nil {
		if errors.Is(err, icatclient.ErrSessionExpired) {
			fresh, loginErr := p.authenticate(ctx)
			if loginErr != nil {
				return loginErr
			}
			*s = *fresh
			return nil
		}
		return err
	}
	s.RemainingMinutes = remaining
	return nil
}

// Release returns a session to the free list.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
	<-p.sem
}

// Invalidate drops a session the catalogue reported as gone. The slot it occupied
// becomes available for a freshly authenticated session on the next borrow.
func (p *Pool) Invalidate(s *Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.client.Logout(ctx, s.ID)
	}()

	p.mu.Lock()
	if p.created > 0 {
		p.created--
	}
	p.mu.Unlock()
	<-p.sem
}

// StartMaintenance runs a background loop that refreshes idle (free) sessions whose
// remaining lifetime has dropped below the refresh threshold, so active borrows
// never observe an expired session.
func (p *Pool) StartMaintenance() {
	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.cfg.MaintenanceTick)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.refreshIdle()
			}
		}
	}()
}

// refreshIdle pops every free session due for refresh out of p.free, refreshes each
// one with the pool mutex released, then returns it to the free list. A session is
// never mutated while it is still reachable from p.free, so a concurrent
// Borrow -> take can never observe or steal one mid-refresh.
func (p *Pool) refreshIdle() {
	p.mu.Lock()
	due := make([]*Session, 0)
	kept := p.free[:0:0]
	for _, s := range p.free {
		if s.dueForRefresh(p.cfg.RefreshThreshold) {
			due = append(due, s)
		} else {
			kept = append(kept, s)
		}
	}
	p.free = kept
	p.mu.Unlock()

	for _, s := range due {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.refresh(ctx, s)
		cancel()
		if err != nil {
			p.logger.Warn("idle session refresh failed", slog.String("error", err.Error()))
		}

		p.mu.Lock()
		p.free = append(p.free, s)
		p.mu.Unlock()
	}
}

// Stop halts the maintenance loop. It does not log out free sessions; the catalogue
// evicts sessions on its own timeout if no longer renewed.
func (p *Pool) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// Outstanding reports the current number of borrowed (not-yet-released) sessions.
func (p *Pool) Outstanding() int {
	return len(p.sem)
}
