package bot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"token-manager/internal/ledger"
	"token-manager/internal/store"
)

func TestCommandArgs(t *testing.T) {
	require.Equal(t, "", commandArgs("/add"))
	require.Equal(t, "", commandArgs("  /add   "))
	require.Equal(t, "5", commandArgs("/take 5"))
	require.Equal(t, "budi rahasia", commandArgs("/login  budi rahasia "))
	require.Equal(t, "tok1\ntok2", commandArgs("/add\ntok1\ntok2\n"))
}

func TestErrorText(t *testing.T) {
	err := fmt.Errorf("failed to load tokens: %w", store.ErrUnavailable)
	require.Equal(t, "❌ Database tidak tersedia, coba lagi nanti.", errorText(err))
	require.Equal(t, "❌ token sudah ada", errorText(ledger.ErrDuplicateToken))
}

func TestFormatting(t *testing.T) {
	require.Equal(t, "✅ Token berhasil ditambahkan!", formatBulk(ledger.BulkAddResult{Success: 1, Total: 1}))
	require.Equal(t, "📦 Hasil tambah token (4 baris):\n✅ Berhasil: 2\n♻️ Duplikat: 1\n⚠️ Format salah: 1",
		formatBulk(ledger.BulkAddResult{Success: 2, Duplicates: 1, Invalid: 1, Total: 4}))

	ban := ledger.BanResult{
		Success:  3,
		NotFound: 1,
		Total:    4,
		PerUser: map[string]*ledger.OwnerLoss{
			"sari": {Count: 1, ValueLost: 1500},
			"budi": {Count: 2, ValueLost: 3000},
		},
	}
	require.Equal(t, "🚫 Ban selesai: 3 dari 4 token\n🔍 Tidak ditemukan: 1\n👤 budi: 2 token, -Rp 3,000\n👤 sari: 1 token, -Rp 1,500",
		formatBan(ban))

	require.Equal(t, "✅ 2 token diambil:\n\na\nb", formatTake(ledger.TakeResult{Tokens: []string{"a", "b"}, Count: 2}))
	require.Equal(t, "Tidak ada user yang online.", formatOnline(nil))
	require.Equal(t, "🟢 Online (2):\nbudi\nsari", formatOnline([]string{"budi", "sari"}))
}

func TestSessions(t *testing.T) {
	s := NewSessions()
	_, ok := s.Get(1)
	require.False(t, ok)

	s.Set(1, Session{Username: "budi", Role: "user"})
	s.Set(2, Session{Username: "budi", Role: "user"})
	s.Set(3, Session{Username: "admin", Role: "admin"})
	require.ElementsMatch(t, []string{"budi", "admin"}, s.Usernames())

	s.SetState(1, stateWaitingTokens)
	require.Equal(t, stateWaitingTokens, s.TakeState(1))
	require.Equal(t, "", s.TakeState(1))

	s.SetState(1, stateWaitingTokens)
	sess, ok := s.Delete(1)
	require.True(t, ok)
	require.Equal(t, "budi", sess.Username)
	require.Equal(t, "", s.TakeState(1))
	_, ok = s.Delete(1)
	require.False(t, ok)
}
