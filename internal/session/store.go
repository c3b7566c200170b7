// Package session keeps one greeting panel per browser, keyed by the value
// of a session cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"

	"github.com/Its-donkey/hello-near/internal/panel"
	"github.com/Its-donkey/hello-near/internal/wallet"
	"github.com/Its-donkey/hello-near/logging"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 30 * time.Minute
)

// Session is the state held for a single browser.
type Session struct {
	ID      string
	Panel   *panel.Panel
	Created time.Time
}

// Options configures a Store.
type Options struct {
	Size  int
	TTL   time.Duration
	Panel panel.Options
	// Clock drives expiry; tests pass gcache.NewFakeClock().
	Clock  gcache.Clock
	Logger *logging.Logger
}

// Store is an LRU of sessions. Idle sessions expire after TTL and their
// panels are closed.
type Store struct {
	cache    gcache.Cache
	provider wallet.Provider
	opts     Options
	logger   *logging.Logger
}

// NewStore builds a store that opens connectors from provider.
func NewStore(provider wallet.Provider, opts Options) *Store {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	s := &Store{provider: provider, opts: opts, logger: opts.Logger}

	builder := gcache.New(opts.Size).
		LRU().
		Expiration(opts.TTL).
		EvictedFunc(s.evicted)
	if opts.Clock != nil {
		builder = builder.Clock(opts.Clock)
	}
	s.cache = builder.Build()
	return s
}

// evicted runs under the cache lock, so the panel is closed elsewhere.
func (s *Store) evicted(key, value interface{}) {
	sess, ok := value.(*Session)
	if !ok {
		return
	}
	s.logger.Debug(logging.CategoryGeneral, "session evicted", map[string]any{"session": key})
	go sess.Panel.Close()
}

// Create starts a new session, restoring restoreAccount when the wallet
// still knows it.
func (s *Store) Create(ctx context.Context, restoreAccount string) (*Session, error) {
	conn := s.provider.Open(restoreAccount)
	sess := &Session{
		ID:      uuid.NewString(),
		Panel:   panel.New(conn, s.opts.Panel),
		Created: time.Now(),
	}
	if err := sess.Panel.Start(ctx); err != nil {
		s.logger.Warn(logging.CategoryWallet, "session start up failed", map[string]any{
			"session": sess.ID,
			"error":   err.Error(),
		})
	}
	if err := s.cache.Set(sess.ID, sess); err != nil {
		sess.Panel.Close()
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.logger.Info(logging.CategoryGeneral, "session created", map[string]any{
		"session": sess.ID,
		"network": s.provider.NetworkID(),
		"restore": restoreAccount != "",
	})
	return sess, nil
}

// Get returns the live session for id and extends its lifetime.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	value, err := s.cache.Get(id)
	if err != nil {
		if !errors.Is(err, gcache.KeyNotFoundError) {
			s.logger.Error(logging.CategoryGeneral, "session lookup failed", err, nil)
		}
		return nil, false
	}
	sess, ok := value.(*Session)
	if !ok {
		return nil, false
	}
	_ = s.cache.SetWithExpire(id, sess, s.opts.TTL)
	return sess, true
}

// Delete drops the session and closes its panel.
func (s *Store) Delete(id string) {
	s.cache.Remove(id)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len(true)
}

// Close closes every panel and empties the store.
func (s *Store) Close() {
	for _, value := range s.cache.GetALL(false) {
		if sess, ok := value.(*Session); ok {
			sess.Panel.Close()
		}
	}
	s.cache.Purge()
}
