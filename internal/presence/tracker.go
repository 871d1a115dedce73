// Package presence marks users online with periodic heartbeat writes and
// derives who is online from the last heartbeat.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"token-manager/internal/activity"
	"token-manager/internal/models"
	"token-manager/internal/store"
)

const (
	usersPath  = "users"
	maxRetries = 5
)

// ErrUnknownUser means there is no registered user record to mark.
var ErrUnknownUser = errors.New("user belum terdaftar")

type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Tracker struct {
	store    store.Store
	sink     *activity.Sink
	interval time.Duration
	window   time.Duration
	now      func() time.Time

	mu    sync.Mutex
	beats map[string]*heartbeat
}

type Option func(*Tracker)

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithWindow sets how long after the last heartbeat a user still counts as online.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(st store.Store, sink *activity.Sink, opts ...Option) *Tracker {
	t := &Tracker{
		store:    st,
		sink:     sink,
		interval: 30 * time.Second,
		window:   120 * time.Second,
		now:      time.Now,
		beats:    make(map[string]*heartbeat),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sink == nil {
		t.sink = activity.NewSink(st, t.now)
	}
	return t
}

func (t *Tracker) Window() time.Duration { return t.window }

func userPath(username string) string { return store.Join(usersPath, username) }

// SetOnline marks username online and keeps it that way with a heartbeat until
// SetOffline or Close. A second call restarts the heartbeat.
func (t *Tracker) SetOnline(ctx context.Context, username string) error {
	if !store.ValidKey(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	err := t.touch(ctx, username, map[string]any{
		"online":    true,
		"last_seen": t.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to set %s online: %w", username, err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}
	t.mu.Lock()
	prev := t.beats[username]
	t.beats[username] = hb
	t.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	go t.run(hbCtx, username, hb)

	log.Printf("User %s is online", username)
	t.sink.Broadcast(ctx, fmt.Sprintf("%s sedang online!", username))
	return nil
}

func (t *Tracker) SetOffline(ctx context.Context, username string) error {
	if !store.ValidKey(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	t.stop(username)
	err := t.touch(ctx, username, map[string]any{
		"online":    false,
		"last_seen": t.now(),
	})
	if errors.Is(err, ErrUnknownUser) {
		log.Printf("User %s went offline but has no record", username)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to set %s offline: %w", username, err)
	}
	log.Printf("User %s is offline", username)
	t.sink.Broadcast(ctx, fmt.Sprintf("%s sedang offline!", username))
	return nil
}

func (t *Tracker) run(ctx context.Context, username string, hb *heartbeat) {
	defer close(hb.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.touch(ctx, username, map[string]any{"last_seen": t.now()})
			if errors.Is(err, ErrUnknownUser) {
				log.Printf("Heartbeat for %s stopped, user no longer exists", username)
				t.mu.Lock()
				if t.beats[username] == hb {
					delete(t.beats, username)
				}
				t.mu.Unlock()
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Printf("Heartbeat for %s failed: %v", username, err)
			}
		}
	}
}

// touch merges fields into an existing user record with a conditional write.
// It never creates the record, so a deleted user stays deleted.
func (t *Tracker) touch(ctx context.Context, username string, fields map[string]any) error {
	path := userPath(username)
	for attempt := 0; attempt < maxRetries; attempt++ {
		var rec map[string]any
		etag, found, err := t.store.GetWithETag(ctx, path, &rec)
		if err != nil {
			return err
		}
		if role, _ := rec["role"].(string); !found || role == "" {
			return ErrUnknownUser
		}
		for k, v := range fields {
			rec[k] = v
		}
		err = t.store.SetIfMatch(ctx, path, rec, etag)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return store.ErrConflict
}

// stop cancels the heartbeat of username, if any, and waits for it to exit.
func (t *Tracker) stop(username string) {
	t.mu.Lock()
	hb, ok := t.beats[username]
	delete(t.beats, username)
	t.mu.Unlock()
	if !ok {
		return
	}
	hb.cancel()
	<-hb.done
}

// Heartbeating reports whether a heartbeat is running for username in this process.
func (t *Tracker) Heartbeating(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.beats[username]
	return ok
}

// IsOnline reports whether u is flagged online and heartbeated within the window.
func (t *Tracker) IsOnline(u models.User) bool {
	return u.Online && t.now().Sub(u.LastSeen) < t.window
}

// OnlineUsers returns the names of users currently online, sorted.
func (t *Tracker) OnlineUsers(ctx context.Context) ([]string, error) {
	var all map[string]models.User
	if _, err := t.store.Get(ctx, usersPath, &all); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	var out []string
	for name, u := range all {
		if u.Role != "" && t.IsOnline(u) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stale returns users still flagged online whose last heartbeat is outside the window.
func (t *Tracker) Stale(ctx context.Context) ([]string, error) {
	var all map[string]models.User
	if _, err := t.store.Get(ctx, usersPath, &all); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	var out []string
	for name, u := range all {
		if u.Role != "" && u.Online && !t.IsOnline(u) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MarkOffline clears the online flag without a broadcast; used for sessions
// that vanished without logging out.
func (t *Tracker) MarkOffline(ctx context.Context, username string) error {
	t.stop(username)
	err := t.touch(ctx, username, map[string]any{"online": false})
	if err != nil && !errors.Is(err, ErrUnknownUser) {
		return fmt.Errorf("failed to mark %s offline: %w", username, err)
	}
	return nil
}

// Forget stops the heartbeat of a user whose record is gone.
func (t *Tracker) Forget(username string) {
	t.stop(username)
}

// Close stops every heartbeat.
func (t *Tracker) Close() {
	t.mu.Lock()
	names := make([]string, 0, len(t.beats))
	for name := range t.beats {
		names = append(names, name)
	}
	t.mu.Unlock()
	for _, name := range names {
		t.stop(name)
	}
}
