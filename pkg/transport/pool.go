package transport

import (
	"context"
	"sync"
	"time"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/errs"
)

// Pool holds one connection slot per configured server, bounded in
// aggregate by maxConcurrent (spec.md §4.2 "Connection pool"). The
// first Acquire for a server dials and authenticates; later Acquires
// reuse the cached session until a fatal transport error tears it
// down.
type Pool struct {
	dial          Dialer
	timeout       time.Duration
	maxConcurrent chan struct{}

	mu    sync.Mutex
	slots map[string]*slot
}

// slot serializes access to one server's single logical connection:
// a per-server mutex plus a lazily-dialed client.
type slot struct {
	mu     sync.Mutex
	client Client
}

// NewPool constructs a pool that dials via d and admits at most
// maxConcurrent operations across all servers simultaneously.
func NewPool(d Dialer, timeout time.Duration, maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{
		dial:          d,
		timeout:       timeout,
		maxConcurrent: make(chan struct{}, maxConcurrent),
		slots:         make(map[string]*slot),
	}
}

// Lease is a held connection slot; call Release when done. Release
// tears the client down (forcing a redial on next Acquire) if the
// operation reported a fatal, non-retryable transport error.
type Lease struct {
	pool   *Pool
	srv    config.ServerDescriptor
	slot   *slot
	Client Client
}

// Acquire blocks until srv's slot and a global concurrency token are
// both available, then returns a Lease wrapping its (possibly freshly
// dialed) Client.
func (p *Pool) Acquire(ctx context.Context, srv config.ServerDescriptor) (*Lease, error) {
	select {
	case p.maxConcurrent <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.New(errs.Cancelled, "acquire cancelled waiting for a free pool slot", ctx.Err())
	}

	s := p.slotFor(srv.ServerID)
	s.mu.Lock()

	if s.client == nil {
		client, err := p.dial(ctx, srv)
		if err != nil {
			s.mu.Unlock()
			<-p.maxConcurrent
			return nil, err
		}
		s.client = client
	}

	return &Lease{pool: p, srv: srv, slot: s, Client: s.client}, nil
}

func (p *Pool) slotFor(serverID string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[serverID]
	if !ok {
		s = &slot{}
		p.slots[serverID] = s
	}
	return s
}

// Release returns the lease's tokens. If fatal is true, the cached
// session is closed and discarded so the next Acquire redials
// (spec.md §4.2: "on fatal transport error the session is torn down
// and reopened on next acquire").
func (l *Lease) Release(fatal bool) {
	if fatal && l.slot.client != nil {
		l.slot.client.Close()
		l.slot.client = nil
	}
	l.slot.mu.Unlock()
	<-l.pool.maxConcurrent
}

// CloseAll tears down every cached session. Used at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		s.mu.Lock()
		if s.client != nil {
			s.client.Close()
			s.client = nil
		}
		s.mu.Unlock()
	}
}
