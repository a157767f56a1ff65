// Package session holds the signed-in user for a client of the API.
//
// A Provider resolves the current session once, caches it, and tells its
// listeners whenever it changes. The page gates in package access consume
// its State.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/flock-dev/flock/internal/access"
	"github.com/flock-dev/flock/internal/auth"
)

// ErrUnauthenticated is returned by a Fetcher when there is no session.
var ErrUnauthenticated = errors.New("not signed in")

// DefaultFetchTimeout bounds a single "who am I" request.
const DefaultFetchTimeout = 30 * time.Second

// Fetcher talks to the session endpoints of the API.
type Fetcher interface {
	// Me returns the current identity, or ErrUnauthenticated.
	Me(ctx context.Context) (*auth.SessionData, error)
	Login(ctx context.Context, email, password string) (*auth.SessionData, error)
	Logout(ctx context.Context) error
}

// Listener is called with the new state after every change.
type Listener func(access.State)

type listenerEntry struct {
	id int
	fn Listener
}

// Provider caches the current session.
type Provider struct {
	fetcher Fetcher
	logger  zerolog.Logger
	timeout time.Duration

	group singleflight.Group
	wg    sync.WaitGroup

	mu        sync.Mutex
	loaded    bool
	user      *auth.SessionData
	gen       uint64
	listeners []listenerEntry
	nextID    int
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger.With().Str("component", "session").Logger()
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProvider creates a provider. Nothing is fetched until Start or GetSession.
func NewProvider(fetcher Fetcher, opts ...Option) *Provider {
	p := &Provider{
		fetcher: fetcher,
		logger:  zerolog.Nop(),
		timeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a snapshot. Loading is true until the first fetch resolves.
func (p *Provider) State() access.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Provider) stateLocked() access.State {
	if !p.loaded {
		return access.State{Loading: true}
	}
	return access.State{User: p.user}
}

// Start resolves the session in the background. Wait blocks until it is done.
func (p *Provider) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _ = p.GetSession(ctx)
	}()
}

// Wait blocks until every fetch started with Start has finished.
func (p *Provider) Wait() {
	p.wg.Wait()
}

// GetSession returns the cached user, fetching it first if needed. A nil user
// with a nil error means nobody is signed in. The only errors are ctx errors.
func (p *Provider) GetSession(ctx context.Context) (*auth.SessionData, error) {
	p.mu.Lock()
	if p.loaded {
		user := p.user
		p.mu.Unlock()
		return user, nil
	}
	gen := p.gen
	p.mu.Unlock()

	// Keyed by generation so a caller after Invalidate never joins a stale fetch
	ch := p.group.DoChan(fmt.Sprintf("me:%d", gen), func() (any, error) {
		return p.fetch(context.WithoutCancel(ctx), gen), nil
	})

	select {
	case res := <-ch:
		state := res.Val.(access.State)
		return state.User, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch runs one "who am I" request and stores the result unless a newer
// mutation happened meanwhile.
func (p *Provider) fetch(ctx context.Context, gen uint64) access.State {
	p.mu.Lock()
	if p.loaded && p.gen == gen {
		// A flight for this generation already finished
		state := p.stateLocked()
		p.mu.Unlock()
		return state
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	user, err := p.fetcher.Me(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			p.logger.Warn().Err(err).Msg("Session fetch failed, treating as signed out")
		}
		user = nil
	}

	p.mu.Lock()
	if p.gen != gen {
		// Login, Logout or Invalidate ran while we were waiting
		state := p.stateLocked()
		p.mu.Unlock()
		p.logger.Debug().Uint64("generation", gen).Msg("Discarding stale session fetch")
		return state
	}
	p.loaded = true
	p.user = user
	state := p.stateLocked()
	listeners := p.snapshotListenersLocked()
	p.mu.Unlock()

	notify(listeners, state)
	return state
}

// Login signs in and replaces the cached session.
func (p *Provider) Login(ctx context.Context, email, password string) (*auth.SessionData, error) {
	user, err := p.fetcher.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	p.set(true, user)
	p.logger.Info().Str("user_id", user.UserID).Str("role", user.Role.String()).Msg("Signed in")
	return user, nil
}

// Logout clears the local session even when the server call fails. The
// server error, if any, is returned.
func (p *Provider) Logout(ctx context.Context) error {
	err := p.fetcher.Logout(ctx)
	if err != nil && !errors.Is(err, ErrUnauthenticated) {
		p.logger.Warn().Err(err).Msg("Server logout failed, clearing local session anyway")
	} else {
		err = nil
	}
	p.set(true, nil)
	return err
}

// Invalidate drops the cached session. The next GetSession fetches again.
func (p *Provider) Invalidate() {
	p.set(false, nil)
}

func (p *Provider) set(loaded bool, user *auth.SessionData) {
	p.mu.Lock()
	p.gen++
	p.loaded = loaded
	p.user = user
	state := p.stateLocked()
	listeners := p.snapshotListenersLocked()
	p.mu.Unlock()

	notify(listeners, state)
}

// OnSessionChange registers fn and returns a function that removes it.
func (p *Provider) OnSessionChange(fn Listener) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners = append(p.listeners, listenerEntry{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, l := range p.listeners {
				if l.id == id {
					p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *Provider) snapshotListenersLocked() []Listener {
	out := make([]Listener, len(p.listeners))
	for i, l := range p.listeners {
		out[i] = l.fn
	}
	return out
}

func notify(listeners []Listener, state access.State) {
	for _, fn := range listeners {
		fn(state)
	}
}
