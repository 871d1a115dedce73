package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"token-manager/internal/activity"
	"token-manager/internal/models"
	"token-manager/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newTestClock() *testClock {
	return &testClock{cur: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func tok(i int) string {
	return fmt.Sprintf("u%032x:abcdEFGH1234..ijklMNOP5678qrst==", i)
}

func setupEngine(t *testing.T, st store.Store, opts ...Option) *Engine {
	t.Helper()
	clock := newTestClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e := New(st, activity.NewSink(st, clock.Now), nil, opts...)
	require.NoError(t, e.Initialize(context.Background(), "admin2024"))
	return e
}

func addUser(t *testing.T, e *Engine, name string) {
	t.Helper()
	_, err := e.AddUser(context.Background(), name, "", models.AdminUsername)
	require.NoError(t, err)
}

func getUser(t *testing.T, e *Engine, name string) *models.User {
	t.Helper()
	u, err := e.UserStats(context.Background(), name)
	require.NoError(t, err)
	return u
}

// requireConsistent checks every user's aggregates against the token records.
func requireConsistent(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	tokens, err := e.loadTokens(ctx)
	require.NoError(t, err)
	users, err := e.loadUsers(ctx)
	require.NoError(t, err)
	for name, u := range users {
		var count, value, banned int64
		for _, tk := range tokens {
			if tk.User != name {
				continue
			}
			if tk.Counted() {
				count++
				value += tk.Price
			} else {
				banned++
			}
		}
		require.Equal(t, count, u.TokenCount, "token_count of %s", name)
		require.Equal(t, value, u.TotalValue, "total_value of %s", name)
		require.Equal(t, banned, u.BannedCount, "banned_count of %s", name)
	}
}

func chatMessages(t *testing.T, e *Engine) []string {
	t.Helper()
	msgs, err := e.sink.Messages(context.Background(), 0)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Message)
	}
	return out
}

func TestInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	require.NoError(t, e.Initialize(ctx, "other"))

	settings, err := e.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1500), settings.PricePerToken)
	require.Equal(t, []string{"Selamat datang di Grup Chat Token Manager!"}, chatMessages(t, e))

	_, err = e.Authenticate(ctx, "", "admin2024", models.RoleAdmin)
	require.NoError(t, err)
	_, err = e.Authenticate(ctx, "", "other", models.RoleAdmin)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAddTokenScenario(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "budi")

	rec, err := e.AddToken(ctx, "  "+tok(1)+"\n", "budi", "budi")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, tok(1), rec.Token)
	require.Equal(t, int64(1500), rec.Price)
	require.Equal(t, models.StatusAvailable, rec.Status)

	u := getUser(t, e, "budi")
	require.Equal(t, int64(1), u.TokenCount)
	require.Equal(t, int64(1500), u.TotalValue)
	require.Contains(t, chatMessages(t, e), "budi menambahkan token baru! (+Rp 1,500)")

	_, err = e.AddToken(ctx, tok(1), "budi", "budi")
	require.ErrorIs(t, err, ErrDuplicateToken)
	_, err = e.AddToken(ctx, "short", "budi", "budi")
	require.ErrorIs(t, err, ErrInvalidFormat)
	_, err = e.AddToken(ctx, tok(2), "nobody", "admin")
	require.ErrorIs(t, err, ErrUserNotRegistered)

	u = getUser(t, e, "budi")
	require.Equal(t, int64(1), u.TokenCount)
	requireConsistent(t, e)
}

func TestPriceIsCapturedAtInsertion(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "budi")

	_, err := e.AddToken(ctx, tok(1), "budi", "budi")
	require.NoError(t, err)
	require.ErrorIs(t, e.UpdatePrice(ctx, 0, "admin"), ErrInvalidPrice)
	require.NoError(t, e.UpdatePrice(ctx, 2000, "admin"))
	_, err = e.AddToken(ctx, tok(2), "budi", "budi")
	require.NoError(t, err)

	u := getUser(t, e, "budi")
	require.Equal(t, int64(3500), u.TotalValue)

	res, err := e.BanTokens(ctx, tok(1), "admin")
	require.NoError(t, err)
	require.Equal(t, int64(1500), res.PerUser["budi"].ValueLost)
	require.Equal(t, int64(2000), getUser(t, e, "budi").TotalValue)
	require.Contains(t, chatMessages(t, e), "Harga token diubah menjadi Rp 2,000 oleh admin! 💲")
	requireConsistent(t, e)
}

func TestAddBulkTokensCounts(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "sari")

	_, err := e.AddToken(ctx, tok(1), "sari", "sari")
	require.NoError(t, err)

	text := strings.Join([]string{tok(1), "", tok(2), "garbage", "   ", tok(3), tok(2)}, "\n")
	res, err := e.AddBulkTokens(ctx, text, "sari", "admin")
	require.NoError(t, err)
	require.Equal(t, BulkAddResult{Success: 2, Duplicates: 2, Invalid: 1, Total: 5}, res)
	require.Equal(t, int64(3), getUser(t, e, "sari").TokenCount)
	require.Contains(t, chatMessages(t, e), "sari menambahkan 2 token sekaligus!")

	_, err = e.AddBulkTokens(ctx, tok(9), "ghost", "admin")
	require.ErrorIs(t, err, ErrUserNotRegistered)
	requireConsistent(t, e)
}

func TestConcurrentAddSameToken(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "budi")
	addUser(t, e, "sari")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		owner := "budi"
		if i%2 == 1 {
			owner = "sari"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AddToken(ctx, tok(7), owner, owner)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicateToken)
	}
	require.Equal(t, 1, ok)
	tokens, err := e.loadTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	requireConsistent(t, e)
}

func TestConcurrentAddKeepsAggregates(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory(), WithMaxRetries(100))
	addUser(t, e, "budi")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddToken(ctx, tok(i), "budi", "budi")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	u := getUser(t, e, "budi")
	require.Equal(t, int64(20), u.TokenCount)
	require.Equal(t, int64(20*1500), u.TotalValue)
	requireConsistent(t, e)
}

func TestTakeTokensFIFO(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := setupEngine(t, mem)
	addUser(t, e, "budi")

	// Keys sort opposite to insertion time.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"c", "b", "a"} {
		require.NoError(t, mem.Set(ctx, tokenPath(key), models.Token{
			Token:     tok(i),
			User:      "budi",
			Price:     1500,
			Status:    models.StatusAvailable,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	res, err := e.TakeTokens(ctx, 2, "admin")
	require.NoError(t, err)
	require.Equal(t, TakeResult{Tokens: []string{tok(0), tok(1)}, Count: 2}, res)

	n, err := e.AvailableCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var taken models.Token
	_, err = mem.Get(ctx, tokenPath("c"), &taken)
	require.NoError(t, err)
	require.Equal(t, models.StatusTaken, taken.Status)
	require.Equal(t, "admin", taken.TakenBy)
	require.NotNil(t, taken.TakenTimestamp)
	require.Contains(t, chatMessages(t, e), "Admin mengambil 2 token!")
}

func TestTakeTokensAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := setupEngine(t, mem)
	addUser(t, e, "budi")
	for i := 0; i < 3; i++ {
		_, err := e.AddToken(ctx, tok(i), "budi", "budi")
		require.NoError(t, err)
	}

	snapshot := func() (tokens, users map[string]any) {
		_, err := mem.Get(ctx, TokensPath, &tokens)
		require.NoError(t, err)
		_, err = mem.Get(ctx, UsersPath, &users)
		require.NoError(t, err)
		return tokens, users
	}
	tokensBefore, usersBefore := snapshot()

	_, err := e.TakeTokens(ctx, 0, "admin")
	require.ErrorIs(t, err, ErrInvalidCount)
	_, err = e.TakeTokens(ctx, 4, "admin")
	require.ErrorIs(t, err, ErrInsufficientAvailable)

	tokensAfter, usersAfter := snapshot()
	require.Equal(t, tokensBefore, tokensAfter)
	require.Equal(t, usersBefore, usersAfter)

	n, err := e.AvailableCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Taking does not touch the owner's aggregates.
	_, err = e.TakeTokens(ctx, 3, "admin")
	require.NoError(t, err)
	u := getUser(t, e, "budi")
	require.Equal(t, int64(3), u.TokenCount)
	require.Equal(t, int64(4500), u.TotalValue)
	requireConsistent(t, e)
}

// flakyStore fails the nth Update call and every conditional write while
// conflicts is positive.
type flakyStore struct {
	*store.Memory
	failUpdateAt int32
	updates      atomic.Int32
	conflicts    atomic.Int32
}

func (f *flakyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if n := f.updates.Add(1); n == f.failUpdateAt {
		return fmt.Errorf("%w: injected", store.ErrUnavailable)
	}
	return f.Memory.Update(ctx, path, fields)
}

func (f *flakyStore) SetIfMatch(ctx context.Context, path string, v any, etag string) error {
	if f.conflicts.Add(-1) >= 0 {
		return store.ErrConflict
	}
	return f.Memory.SetIfMatch(ctx, path, v, etag)
}

func TestTakeTokensRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Memory: store.NewMemory()}
	e := setupEngine(t, fs)
	addUser(t, e, "budi")
	for i := 0; i < 3; i++ {
		_, err := e.AddToken(ctx, tok(i), "budi", "budi")
		require.NoError(t, err)
	}

	fs.failUpdateAt = fs.updates.Load() + 2
	_, err := e.TakeTokens(ctx, 3, "admin")
	require.ErrorIs(t, err, store.ErrUnavailable)

	tokens, err := e.loadTokens(ctx)
	require.NoError(t, err)
	for _, tk := range tokens {
		require.Equal(t, models.StatusAvailable, tk.Status)
		require.Empty(t, tk.TakenBy)
		require.Nil(t, tk.TakenTimestamp)
	}
}

func TestAggregateConflictRetry(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Memory: store.NewMemory()}
	e := setupEngine(t, fs, WithMaxRetries(3))
	addUser(t, e, "budi")

	fs.conflicts.Store(2)
	_, err := e.AddToken(ctx, tok(1), "budi", "budi")
	require.NoError(t, err)
	require.Equal(t, int64(1), getUser(t, e, "budi").TokenCount)

	fs.conflicts.Store(3)
	_, err = e.AddToken(ctx, tok(2), "budi", "budi")
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, int64(1), getUser(t, e, "budi").TokenCount)

	// The token record landed; reconciliation repairs the aggregate.
	drifts, err := e.Reconcile(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, "budi", drifts[0].Username)
	require.Equal(t, int64(1), drifts[0].TokenCount)
	require.Equal(t, int64(2), drifts[0].WantTokenCount)
	requireConsistent(t, e)

	drifts, err = e.Reconcile(ctx, "admin")
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestBanTokens(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "budi")
	addUser(t, e, "sari")

	_, err := e.BanTokens(ctx, tok(1), "admin")
	require.ErrorIs(t, err, ErrTokenNotFound)

	for i := 0; i < 3; i++ {
		_, err := e.AddToken(ctx, tok(i), "budi", "budi")
		require.NoError(t, err)
	}
	_, err = e.AddToken(ctx, tok(10), "sari", "sari")
	require.NoError(t, err)
	_, err = e.TakeTokens(ctx, 1, "admin")
	require.NoError(t, err)

	text := strings.Join([]string{tok(0), tok(1), tok(10), tok(99), tok(1)}, "\n")
	res, err := e.BanTokens(ctx, text, "admin")
	require.NoError(t, err)
	require.Equal(t, 5, res.Total)
	require.Equal(t, 3, res.Success)
	require.Equal(t, 1, res.NotFound)
	require.Equal(t, 1, res.AlreadyBanned)
	require.Equal(t, 2, res.AffectedUsers)
	require.Equal(t, &OwnerLoss{Count: 2, ValueLost: 3000}, res.PerUser["budi"])
	require.Equal(t, &OwnerLoss{Count: 1, ValueLost: 1500}, res.PerUser["sari"])

	budi := getUser(t, e, "budi")
	require.Equal(t, int64(1), budi.TokenCount)
	require.Equal(t, int64(1500), budi.TotalValue)
	require.Equal(t, int64(2), budi.BannedCount)
	sari := getUser(t, e, "sari")
	require.Equal(t, int64(0), sari.TokenCount)
	require.Equal(t, int64(0), sari.TotalValue)

	msgs := chatMessages(t, e)
	require.Contains(t, msgs, "Admin memban 3 token rusak! ⚠️")
	require.Contains(t, msgs, "⚠️ budi: 2 token Anda di-ban karena rusak! Penghasilan dikurangi Rp 3,000")
	requireConsistent(t, e)

	// Banning again changes nothing.
	res, err = e.BanTokens(ctx, tok(0), "admin")
	require.NoError(t, err)
	require.Equal(t, 1, res.AlreadyBanned)
	require.Equal(t, int64(2), getUser(t, e, "budi").BannedCount)
}

func TestBanNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := setupEngine(t, mem)
	addUser(t, e, "budi")
	_, err := e.AddToken(ctx, tok(1), "budi", "budi")
	require.NoError(t, err)

	// Simulate drifted aggregates.
	require.NoError(t, mem.Update(ctx, userPath("budi"), map[string]any{"token_count": 0, "total_value": 100}))

	_, err = e.BanTokens(ctx, tok(1), "admin")
	require.NoError(t, err)
	u := getUser(t, e, "budi")
	require.Equal(t, int64(0), u.TokenCount)
	require.Equal(t, int64(0), u.TotalValue)
	require.Equal(t, int64(1), u.BannedCount)
}

func TestCheckTokenOwner(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "budi")
	rec, err := e.AddToken(ctx, tok(1), "budi", "budi")
	require.NoError(t, err)

	info, err := e.CheckTokenOwner(ctx, " "+tok(1)+" ")
	require.NoError(t, err)
	require.Equal(t, rec.ID, info.ID)
	require.Equal(t, "budi", info.Owner)
	require.Equal(t, models.StatusAvailable, info.Status)
	require.Equal(t, rec.Timestamp.Format("02/01/2006 15:04"), info.Timestamp)

	_, err = e.CheckTokenOwner(ctx, tok(2))
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := setupEngine(t, mem)
	addUser(t, e, "budi")

	mem.SetUnavailable(true)
	_, err := e.AddToken(ctx, tok(1), "budi", "budi")
	require.ErrorIs(t, err, store.ErrUnavailable)
	_, err = e.TakeTokens(ctx, 1, "admin")
	require.ErrorIs(t, err, store.ErrUnavailable)
	_, err = e.Stats(ctx)
	require.ErrorIs(t, err, store.ErrUnavailable)

	mem.SetUnavailable(false)
	require.Equal(t, int64(0), getUser(t, e, "budi").TokenCount)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())

	_, err := e.AddUser(ctx, "budi", "rahasia", "admin")
	require.NoError(t, err)
	_, err = e.AddUser(ctx, "budi", "", "admin")
	require.ErrorIs(t, err, ErrUserExists)
	_, err = e.AddUser(ctx, "admin", "", "admin")
	require.ErrorIs(t, err, ErrInvalidUsername)
	_, err = e.AddUser(ctx, "a/b", "", "admin")
	require.ErrorIs(t, err, ErrInvalidUsername)
	require.Contains(t, chatMessages(t, e), "User baru budi telah ditambahkan oleh admin!")

	_, err = e.Authenticate(ctx, "budi", "salah", models.RoleUser)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	login, err := e.Authenticate(ctx, "budi", "rahasia", models.RoleUser)
	require.NoError(t, err)
	require.True(t, login.InfoRequired)
	require.False(t, getUser(t, e, "budi").LastLogin.IsZero())

	require.NoError(t, e.UpdateUserInfo(ctx, "budi", models.PersonalInfo{
		WA: "0812", Rekening: "BCA 123", TglLahir: "01/01/1990", TempatTinggal: "Bandung",
	}))
	require.ErrorIs(t, e.UpdatePassword(ctx, "budi", ""), ErrEmptyPassword)
	require.NoError(t, e.UpdatePassword(ctx, "budi", "baru"))
	login, err = e.Authenticate(ctx, "budi", "baru", models.RoleUser)
	require.NoError(t, err)
	require.False(t, login.InfoRequired)

	addUser(t, e, "sari")
	_, err = e.AddToken(ctx, tok(1), "sari", "sari")
	require.NoError(t, err)
	users, err := e.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "sari", users[0].Username)

	require.ErrorIs(t, e.DeleteUser(ctx, "sari", "admin"), ErrUserHasTokens)
	require.NoError(t, e.DeleteUser(ctx, "budi", "admin"))
	require.ErrorIs(t, e.DeleteUser(ctx, "budi", "admin"), ErrUserNotRegistered)
	_, err = e.Authenticate(ctx, "budi", "baru", models.RoleUser)
	require.ErrorIs(t, err, ErrUserNotRegistered)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory(), WithOnlineCheck(func(u models.User) bool {
		return u.Username == "budi"
	}))
	addUser(t, e, "budi")
	addUser(t, e, "sari")
	for i := 0; i < 4; i++ {
		_, err := e.AddToken(ctx, tok(i), "budi", "budi")
		require.NoError(t, err)
	}
	_, err := e.TakeTokens(ctx, 1, "admin")
	require.NoError(t, err)
	_, err = e.BanTokens(ctx, tok(3), "admin")
	require.NoError(t, err)

	s, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, &Stats{
		TotalTokens:     4,
		AvailableTokens: 2,
		TakenTokens:     1,
		BannedTokens:    1,
		TotalValue:      4500,
		TotalUsers:      2,
		OnlineUsers:     1,
		PricePerToken:   1500,
	}, s)
}

func TestFormatRupiah(t *testing.T) {
	tests := map[int64]string{
		0:       "0",
		999:     "999",
		1500:    "1,500",
		100000:  "100,000",
		1234567: "1,234,567",
		-4500:   "-4,500",
	}
	for in, want := range tests {
		require.Equal(t, want, FormatRupiah(in))
	}
}

func TestConcurrentTakeNeverSharesTokens(t *testing.T) {
	ctx := context.Background()
	e := setupEngine(t, store.NewMemory())
	addUser(t, e, "budi")
	for i := 0; i < 6; i++ {
		_, err := e.AddToken(ctx, tok(i), "budi", "budi")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make(chan TakeResult, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := e.TakeTokens(ctx, 2, "admin"); err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	batches := 0
	for res := range results {
		batches++
		for _, tk := range res.Tokens {
			require.False(t, seen[tk], "token handed out twice")
			seen[tk] = true
		}
	}
	require.Equal(t, 3, batches)
	require.Len(t, seen, 6)
}

// interleavingStore runs hook once, right before the next read of hookPath.
type interleavingStore struct {
	*store.Memory
	hookPath string
	armed    atomic.Bool
	hook     func()
}

func (s *interleavingStore) Get(ctx context.Context, path string, dst any) (bool, error) {
	if path == s.hookPath && s.armed.CompareAndSwap(true, false) {
		s.hook()
	}
	return s.Memory.Get(ctx, path, dst)
}

func TestReconcileKeepsConcurrentAdd(t *testing.T) {
	for _, path := range []string{UsersPath, TokensPath} {
		t.Run(path, func(t *testing.T) {
			ctx := context.Background()
			is := &interleavingStore{Memory: store.NewMemory(), hookPath: path}
			e := setupEngine(t, is)
			addUser(t, e, "budi")
			_, err := e.AddToken(ctx, tok(1), "budi", "budi")
			require.NoError(t, err)
			// Lose the credit so Reconcile has something to repair.
			require.NoError(t, is.Memory.Update(ctx, userPath("budi"), map[string]any{"token_count": 0, "total_value": 0}))

			added := make(chan error, 1)
			is.hook = func() {
				go func() {
					_, err := e.AddToken(ctx, tok(2), "budi", "budi")
					added <- err
				}()
				time.Sleep(50 * time.Millisecond)
			}
			is.armed.Store(true)

			drifts, err := e.Reconcile(ctx, "admin")
			require.NoError(t, err)
			require.Len(t, drifts, 1)
			require.Equal(t, int64(1), drifts[0].WantTokenCount)
			require.NoError(t, <-added)

			u := getUser(t, e, "budi")
			require.Equal(t, int64(2), u.TokenCount)
			require.Equal(t, int64(3000), u.TotalValue)
			requireConsistent(t, e)
		})
	}
}

// skewStore bumps budi's aggregates behind the ledger's back on the first
// read of the token collection, as a writer whose lock expired would.
type skewStore struct {
	*store.Memory
	armed atomic.Bool
}

func (s *skewStore) Get(ctx context.Context, path string, dst any) (bool, error) {
	if path == TokensPath && s.armed.CompareAndSwap(true, false) {
		if err := s.Memory.Update(ctx, userPath("budi"), map[string]any{"banned_count": 7}); err != nil {
			return false, err
		}
	}
	return s.Memory.Get(ctx, path, dst)
}

func TestReconcileRescansWhenAggregatesMove(t *testing.T) {
	ctx := context.Background()
	ss := &skewStore{Memory: store.NewMemory()}
	e := setupEngine(t, ss)
	addUser(t, e, "budi")
	_, err := e.AddToken(ctx, tok(1), "budi", "budi")
	require.NoError(t, err)
	require.NoError(t, ss.Memory.Update(ctx, userPath("budi"), map[string]any{"token_count": 5}))

	ss.armed.Store(true)
	drifts, err := e.Reconcile(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	// The repair is based on the rescanned record, not the first snapshot.
	require.Equal(t, int64(7), drifts[0].BannedCount)
	require.Equal(t, int64(0), drifts[0].WantBannedCount)
	requireConsistent(t, e)
}

func TestPartialUserRecordsAreNotRegistrations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := setupEngine(t, mem)
	require.NoError(t, mem.Update(ctx, userPath("ghost"), map[string]any{"last_seen": time.Now()}))

	_, err := e.Authenticate(ctx, "ghost", "any-password", models.RoleUser)
	require.ErrorIs(t, err, ErrUserNotRegistered)
	_, err = e.Authenticate(ctx, models.AdminUsername, "", models.RoleUser)
	require.ErrorIs(t, err, ErrUserNotRegistered)
	_, err = e.AddToken(ctx, tok(1), "ghost", "admin")
	require.ErrorIs(t, err, ErrUserNotRegistered)
	_, err = e.AddToken(ctx, tok(1), models.AdminUsername, "admin")
	require.ErrorIs(t, err, ErrUserNotRegistered)

	users, err := e.ListUsers(ctx)
	require.NoError(t, err)
	require.Empty(t, users)
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.TotalUsers)
	drifts, err := e.Reconcile(ctx, "admin")
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestDeleteUserRunsHook(t *testing.T) {
	ctx := context.Background()
	var deleted []string
	e := setupEngine(t, store.NewMemory(), WithOnDelete(func(username string) {
		deleted = append(deleted, username)
	}))
	addUser(t, e, "budi")
	addUser(t, e, "sari")
	_, err := e.AddToken(ctx, tok(1), "sari", "sari")
	require.NoError(t, err)

	require.ErrorIs(t, e.DeleteUser(ctx, "sari", "admin"), ErrUserHasTokens)
	require.NoError(t, e.DeleteUser(ctx, "budi", "admin"))
	require.Equal(t, []string{"budi"}, deleted)

	_, err = e.Authenticate(ctx, "budi", "", models.RoleUser)
	require.ErrorIs(t, err, ErrUserNotRegistered)
}
