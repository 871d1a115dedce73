// Package ledger keeps the token inventory and the per-user aggregates
// (token_count, total_value, banned_count) consistent with it.
//
// For every user u, outside of an in-flight operation:
//
//	total_value(u)  == sum of price over u's tokens that are not banned
//	token_count(u)  == number of u's tokens that are not banned
//	banned_count(u) == number of u's banned tokens
//
// The store has no transactions. Aggregates are updated with a conditional
// write retried on conflict, and the read-then-write sections over the token
// collection run under a lock.Locker.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"token-manager/internal/activity"
	"token-manager/internal/lock"
	"token-manager/internal/models"
	"token-manager/internal/store"
)

const (
	TokensPath   = "tokens"
	UsersPath    = "users"
	SettingsPath = "settings"
)

type Engine struct {
	store        store.Store
	sink         *activity.Sink
	locker       lock.Locker
	now          func() time.Time
	maxRetries   int
	defaultPrice int64
	isOnline     func(models.User) bool
	onDelete     func(username string)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxRetries bounds the conditional-write attempts on a user aggregate.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithDefaultPrice is the price used when no settings record exists.
func WithDefaultPrice(price int64) Option {
	return func(e *Engine) {
		if price > 0 {
			e.defaultPrice = price
		}
	}
}

// WithOnlineCheck supplies the presence predicate used by stats and listings.
func WithOnlineCheck(fn func(models.User) bool) Option {
	return func(e *Engine) { e.isOnline = fn }
}

// WithOnDelete registers a hook run after a user record is deleted.
func WithOnDelete(fn func(username string)) Option {
	return func(e *Engine) { e.onDelete = fn }
}

func New(st store.Store, sink *activity.Sink, locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		sink:         sink,
		locker:       locker,
		now:          time.Now,
		maxRetries:   5,
		defaultPrice: 1500,
		isOnline:     func(u models.User) bool { return u.Online },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.sink == nil {
		e.sink = activity.NewSink(st, e.now)
	}
	return e
}

func tokenPath(id string) string      { return store.Join(TokensPath, id) }
func userPath(username string) string { return store.Join(UsersPath, username) }

// loadTokens returns every token record ordered by store key.
func (e *Engine) loadTokens(ctx context.Context) ([]models.Token, error) {
	var all map[string]models.Token
	if _, err := e.store.Get(ctx, TokensPath, &all); err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	out := make([]models.Token, 0, len(all))
	for id, t := range all {
		t.ID = id
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (e *Engine) loadUsers(ctx context.Context) (map[string]models.User, error) {
	var all map[string]models.User
	if _, err := e.store.Get(ctx, UsersPath, &all); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for name, u := range all {
		u.Username = name
		all[name] = u
	}
	return all, nil
}

func (e *Engine) loadUser(ctx context.Context, username string) (*models.User, error) {
	if !store.ValidKey(username) {
		return nil, ErrUserNotRegistered
	}
	var u models.User
	found, err := e.store.Get(ctx, userPath(username), &u)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", username, err)
	}
	// Records without a role are leftovers of partial writes, not registrations.
	if !found || u.Role == "" {
		return nil, ErrUserNotRegistered
	}
	u.Username = username
	return &u, nil
}

// loadContributor is loadUser restricted to accounts that own tokens.
func (e *Engine) loadContributor(ctx context.Context, username string) (*models.User, error) {
	u, err := e.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleUser {
		return nil, ErrUserNotRegistered
	}
	return u, nil
}

// adjustUser applies fn to the user record with a conditional write, re-reading
// and retrying when another writer got there first. An error from fn aborts
// without writing.
func (e *Engine) adjustUser(ctx context.Context, username string, fn func(*models.User) error) (*models.User, error) {
	path := userPath(username)
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		var u models.User
		etag, found, err := e.store.GetWithETag(ctx, path, &u)
		if err != nil {
			return nil, fmt.Errorf("failed to load user %s: %w", username, err)
		}
		if !found || u.Role == "" {
			return nil, ErrUserNotRegistered
		}
		if err := fn(&u); err != nil {
			return nil, err
		}
		err = e.store.SetIfMatch(ctx, path, &u, etag)
		if err == nil {
			u.Username = username
			return &u, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("failed to update user %s: %w", username, err)
		}
		log.Printf("Aggregate update for %s conflicted (attempt %d), retrying", username, attempt+1)
	}
	return nil, ErrConflict
}

func floorZero(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
