package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"token-manager/internal/lock"
	"token-manager/internal/models"
	"token-manager/internal/token"
)

type BulkAddResult struct {
	Success    int `json:"success"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type TakeResult struct {
	Tokens []string `json:"tokens"`
	Count  int      `json:"count"`
}

type OwnerLoss struct {
	Count     int   `json:"count"`
	ValueLost int64 `json:"value_lost"`
}

type BanResult struct {
	Success       int                   `json:"success"`
	NotFound      int                   `json:"not_found"`
	AlreadyBanned int                   `json:"already_banned"`
	Failed        int                   `json:"failed"`
	Total         int                   `json:"total"`
	AffectedUsers int                   `json:"affected_users"`
	PerUser       map[string]*OwnerLoss `json:"per_user"`
}

type TokenInfo struct {
	ID        string    `json:"token_id"`
	Owner     string    `json:"owner"`
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	Price     int64     `json:"price"`
}

// AddToken records a new available token for owner and credits its value.
func (e *Engine) AddToken(ctx context.Context, tok, owner, actor string) (*models.Token, error) {
	log.Printf("Attempting to add token for %s by %s", owner, actor)
	tok = strings.TrimSpace(tok)

	if _, err := e.loadContributor(ctx, owner); err != nil {
		return nil, err
	}
	if !token.IsValid(tok) {
		return nil, ErrInvalidFormat
	}

	// Held from the duplicate scan until the owner is credited, so Reconcile
	// never sees a pushed token whose credit is still pending.
	release, err := e.locker.Acquire(ctx, lock.PoolKey)
	if err != nil {
		return nil, fmt.Errorf("failed to lock token pool: %w", err)
	}
	defer release()

	existing, err := e.loadTokens(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range existing {
		if t.Token == tok {
			return nil, ErrDuplicateToken
		}
	}

	price, err := e.currentPrice(ctx)
	if err != nil {
		return nil, err
	}

	rec := models.Token{
		Token:     tok,
		User:      owner,
		AddedBy:   actor,
		Price:     price,
		Status:    models.StatusAvailable,
		Timestamp: e.now(),
	}
	id, err := e.store.Push(ctx, TokensPath, rec)
	if err != nil {
		return nil, fmt.Errorf("gagal menambahkan token ke database: %w", err)
	}
	rec.ID = id
	log.Printf("Token added with ID: %s", id)

	_, err = e.adjustUser(ctx, owner, func(u *models.User) error {
		u.TokenCount++
		u.TotalValue += price
		return nil
	})
	if err != nil {
		log.Printf("Token %s saved but totals of %s not updated: %v", id, owner, err)
		return nil, fmt.Errorf("token tersimpan, saldo %s belum diperbarui: %w", owner, err)
	}

	e.sink.Log(ctx, actor, "token_added", fmt.Sprintf("Menambahkan token untuk %s", owner))
	e.sink.Broadcast(ctx, fmt.Sprintf("%s menambahkan token baru! (+Rp %s)", owner, FormatRupiah(price)))
	return &rec, nil
}

// AddBulkTokens adds one token per non-blank line, in order.
func (e *Engine) AddBulkTokens(ctx context.Context, text, owner, actor string) (BulkAddResult, error) {
	lines := token.Lines(text)
	res := BulkAddResult{Total: len(lines)}
	if _, err := e.loadContributor(ctx, owner); err != nil {
		return res, err
	}

	for _, line := range lines {
		_, err := e.AddToken(ctx, line, owner, actor)
		switch {
		case err == nil:
			res.Success++
		case errors.Is(err, ErrDuplicateToken):
			res.Duplicates++
		case errors.Is(err, ErrInvalidFormat):
			res.Invalid++
		default:
			log.Printf("Bulk add of a token for %s failed: %v", owner, err)
			res.Failed++
		}
	}

	if res.Success > 0 {
		e.sink.Broadcast(ctx, fmt.Sprintf("%s menambahkan %d token sekaligus!", owner, res.Success))
	}
	return res, nil
}

// AvailableCount counts tokens in the shared pool.
func (e *Engine) AvailableCount(ctx context.Context) (int, error) {
	tokens, err := e.loadTokens(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tokens {
		if t.Status == models.StatusAvailable {
			n++
		}
	}
	return n, nil
}

// TakeTokens moves the count oldest available tokens into actor's custody.
// Nothing is written unless all count tokens can be taken.
func (e *Engine) TakeTokens(ctx context.Context, count int, actor string) (TakeResult, error) {
	if count <= 0 {
		return TakeResult{}, ErrInvalidCount
	}

	release, err := e.locker.Acquire(ctx, lock.PoolKey)
	if err != nil {
		return TakeResult{}, fmt.Errorf("failed to lock token pool: %w", err)
	}
	defer release()

	tokens, err := e.loadTokens(ctx)
	if err != nil {
		return TakeResult{}, err
	}
	var available []models.Token
	for _, t := range tokens {
		if t.Status == models.StatusAvailable {
			available = append(available, t)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Timestamp.Before(available[j].Timestamp)
	})
	if len(available) < count {
		return TakeResult{}, fmt.Errorf("%w: diminta %d, tersedia %d", ErrInsufficientAvailable, count, len(available))
	}

	now := e.now()
	res := TakeResult{Tokens: make([]string, 0, count)}
	var takenIDs []string
	for _, t := range available[:count] {
		err := e.store.Update(ctx, tokenPath(t.ID), map[string]any{
			"status":          models.StatusTaken,
			"taken_by":        actor,
			"taken_timestamp": now,
		})
		if err != nil {
			e.rollbackTake(ctx, takenIDs)
			return TakeResult{}, fmt.Errorf("failed to take token %s: %w", t.ID, err)
		}
		takenIDs = append(takenIDs, t.ID)
		res.Tokens = append(res.Tokens, t.Token)
	}
	res.Count = len(res.Tokens)

	e.sink.Log(ctx, actor, "tokens_taken", fmt.Sprintf("Mengambil %d token", res.Count))
	e.sink.Broadcast(ctx, fmt.Sprintf("Admin mengambil %d token!", res.Count))
	return res, nil
}

// rollbackTake returns already taken tokens to the pool after a failed batch.
func (e *Engine) rollbackTake(ctx context.Context, ids []string) {
	for _, id := range ids {
		err := e.store.Update(ctx, tokenPath(id), map[string]any{
			"status":          models.StatusAvailable,
			"taken_by":        nil,
			"taken_timestamp": nil,
		})
		if err != nil {
			log.Printf("Failed to return token %s to the pool: %v", id, err)
		}
	}
}

// BanTokens marks every listed token banned and claws its value back from the
// owner. Lines are matched by exact string; the first record in key order wins.
func (e *Engine) BanTokens(ctx context.Context, text, actor string) (BanResult, error) {
	lines := token.Lines(text)
	res := BanResult{Total: len(lines), PerUser: map[string]*OwnerLoss{}}
	if len(lines) == 0 {
		return res, nil
	}

	release, err := e.locker.Acquire(ctx, lock.PoolKey)
	if err != nil {
		return res, fmt.Errorf("failed to lock token pool: %w", err)
	}
	defer release()

	tokens, err := e.loadTokens(ctx)
	if err != nil {
		return res, err
	}
	if len(tokens) == 0 {
		return res, ErrTokenNotFound
	}
	index := make(map[string]int, len(tokens))
	for i := len(tokens) - 1; i >= 0; i-- {
		index[tokens[i].Token] = i
	}

	for _, line := range lines {
		i, ok := index[line]
		if !ok {
			res.NotFound++
			continue
		}
		t := &tokens[i]
		if t.Status == models.StatusBanned {
			res.AlreadyBanned++
			continue
		}

		now := e.now()
		err := e.store.Update(ctx, tokenPath(t.ID), map[string]any{
			"status":           models.StatusBanned,
			"banned_by":        actor,
			"banned_timestamp": now,
		})
		if err != nil {
			log.Printf("Failed to ban token %s: %v", t.ID, err)
			res.Failed++
			continue
		}
		t.Status = models.StatusBanned
		res.Success++

		price := t.Price
		_, err = e.adjustUser(ctx, t.User, func(u *models.User) error {
			u.TokenCount = floorZero(u.TokenCount - 1)
			u.TotalValue = floorZero(u.TotalValue - price)
			u.BannedCount++
			return nil
		})
		switch {
		case err == nil:
			loss, ok := res.PerUser[t.User]
			if !ok {
				loss = &OwnerLoss{}
				res.PerUser[t.User] = loss
			}
			loss.Count++
			loss.ValueLost += price
		case errors.Is(err, ErrUserNotRegistered):
			log.Printf("Banned token %s belongs to unknown user %s", t.ID, t.User)
		default:
			log.Printf("Token %s banned but totals of %s not updated: %v", t.ID, t.User, err)
		}

		e.sink.Log(ctx, actor, "token_banned", fmt.Sprintf("Ban token milik %s", t.User))
	}
	res.AffectedUsers = len(res.PerUser)

	if res.Success > 0 {
		e.sink.Broadcast(ctx, fmt.Sprintf("Admin memban %d token rusak! ⚠️", res.Success))
		owners := make([]string, 0, len(res.PerUser))
		for owner := range res.PerUser {
			owners = append(owners, owner)
		}
		sort.Strings(owners)
		for _, owner := range owners {
			loss := res.PerUser[owner]
			e.sink.Notify(ctx, owner, fmt.Sprintf("⚠️ %s: %d token Anda di-ban karena rusak! Penghasilan dikurangi Rp %s",
				owner, loss.Count, FormatRupiah(loss.ValueLost)))
			e.sink.Log(ctx, "sistem", "user_notified", fmt.Sprintf("Notifikasi ban token dikirim ke %s", owner))
		}
	}
	return res, nil
}

// CheckTokenOwner looks a token string up by exact match.
func (e *Engine) CheckTokenOwner(ctx context.Context, tok string) (*TokenInfo, error) {
	tok = strings.TrimSpace(tok)
	tokens, err := e.loadTokens(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.Token != tok {
			continue
		}
		info := &TokenInfo{
			ID:        t.ID,
			Owner:     t.User,
			Status:    t.Status,
			CreatedAt: t.Timestamp,
			Price:     t.Price,
			Timestamp: "Waktu tidak diketahui",
		}
		if !t.Timestamp.IsZero() {
			info.Timestamp = t.Timestamp.Format("02/01/2006 15:04")
		}
		return info, nil
	}
	return nil, ErrTokenNotFound
}
