package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"token-manager/internal/lock"
	"token-manager/internal/models"
)

type Stats struct {
	TotalTokens     int   `json:"total_tokens"`
	AvailableTokens int   `json:"available_tokens"`
	TakenTokens     int   `json:"taken_tokens"`
	BannedTokens    int   `json:"banned_tokens"`
	TotalValue      int64 `json:"total_value"`
	TotalUsers      int   `json:"total_users"`
	OnlineUsers     int   `json:"online_users"`
	PricePerToken   int64 `json:"price_per_token"`
}

// Stats summarizes the inventory for the admin dashboard.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	tokens, err := e.loadTokens(ctx)
	if err != nil {
		return nil, err
	}
	users, err := e.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	price, err := e.currentPrice(ctx)
	if err != nil {
		return nil, err
	}

	s := &Stats{TotalTokens: len(tokens), PricePerToken: price}
	for _, t := range tokens {
		switch t.Status {
		case models.StatusAvailable:
			s.AvailableTokens++
		case models.StatusTaken:
			s.TakenTokens++
		case models.StatusBanned:
			s.BannedTokens++
		}
		if t.Counted() {
			s.TotalValue += t.Price
		}
	}
	for _, u := range users {
		if u.Role != models.RoleUser {
			continue
		}
		s.TotalUsers++
		if e.isOnline(u) {
			s.OnlineUsers++
		}
	}
	return s, nil
}

// Drift is a user whose stored aggregates disagreed with the token records.
type Drift struct {
	Username        string `json:"username"`
	TokenCount      int64  `json:"token_count"`
	TotalValue      int64  `json:"total_value"`
	BannedCount     int64  `json:"banned_count"`
	WantTokenCount  int64  `json:"want_token_count"`
	WantTotalValue  int64  `json:"want_total_value"`
	WantBannedCount int64  `json:"want_banned_count"`
}

// errStaleSnapshot aborts a repair whose user record moved after the snapshot.
var errStaleSnapshot = errors.New("aggregates changed since snapshot")

// Reconcile recomputes every user's aggregates from the token records and
// rewrites the ones that drifted, e.g. after a write failed between the token
// record and the aggregate.
func (e *Engine) Reconcile(ctx context.Context, actor string) ([]Drift, error) {
	release, err := e.locker.Acquire(ctx, lock.PoolKey)
	if err != nil {
		return nil, fmt.Errorf("failed to lock token pool: %w", err)
	}
	defer release()

	var repaired []Drift
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		done, err := e.reconcilePass(ctx, &repaired)
		if err != nil {
			return repaired, err
		}
		if done {
			if len(repaired) > 0 {
				e.sink.Log(ctx, actor, "reconcile", fmt.Sprintf("Memperbaiki saldo %d user", len(repaired)))
			}
			return repaired, nil
		}
		log.Printf("Aggregates changed during reconcile (attempt %d), rescanning", attempt+1)
	}
	return repaired, ErrConflict
}

// reconcilePass repairs drift against one snapshot. It reports false when a
// user record changed after the snapshot and the pass has to be redone.
func (e *Engine) reconcilePass(ctx context.Context, repaired *[]Drift) (bool, error) {
	// Users first: a token credited after this read shows up as a changed
	// record below instead of being undone.
	users, err := e.loadUsers(ctx)
	if err != nil {
		return false, err
	}
	tokens, err := e.loadTokens(ctx)
	if err != nil {
		return false, err
	}

	want := make(map[string]*Drift, len(users))
	names := make([]string, 0, len(users))
	for name, u := range users {
		if u.Role == "" {
			continue
		}
		want[name] = &Drift{Username: name}
		names = append(names, name)
	}
	for _, t := range tokens {
		d, ok := want[t.User]
		if !ok {
			continue
		}
		if t.Counted() {
			d.WantTokenCount++
			d.WantTotalValue += t.Price
		} else {
			d.WantBannedCount++
		}
	}
	sort.Strings(names)

	for _, name := range names {
		u, d := users[name], want[name]
		if u.TokenCount == d.WantTokenCount && u.TotalValue == d.WantTotalValue && u.BannedCount == d.WantBannedCount {
			continue
		}
		d.TokenCount, d.TotalValue, d.BannedCount = u.TokenCount, u.TotalValue, u.BannedCount
		_, err := e.adjustUser(ctx, name, func(cur *models.User) error {
			if cur.TokenCount != d.TokenCount || cur.TotalValue != d.TotalValue || cur.BannedCount != d.BannedCount {
				return errStaleSnapshot
			}
			cur.TokenCount = d.WantTokenCount
			cur.TotalValue = d.WantTotalValue
			cur.BannedCount = d.WantBannedCount
			return nil
		})
		if errors.Is(err, errStaleSnapshot) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to repair %s: %w", name, err)
		}
		log.Printf("Repaired aggregates of %s: count %d->%d, value %d->%d, banned %d->%d",
			name, d.TokenCount, d.WantTokenCount, d.TotalValue, d.WantTotalValue, d.BannedCount, d.WantBannedCount)
		*repaired = append(*repaired, *d)
	}
	return true, nil
}
