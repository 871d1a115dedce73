package bot

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"token-manager/internal/ledger"
	"token-manager/internal/models"
	"token-manager/internal/store"
)

// commandArgs returns everything after the command word, keeping line breaks.
func commandArgs(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t\n")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i+1:])
}

func errorText(err error) string {
	if errors.Is(err, store.ErrUnavailable) {
		return "❌ Database tidak tersedia, coba lagi nanti."
	}
	return "❌ " + err.Error()
}

func formatBulk(res ledger.BulkAddResult) string {
	if res.Total == 1 && res.Success == 1 {
		return "✅ Token berhasil ditambahkan!"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 Hasil tambah token (%d baris):\n", res.Total)
	fmt.Fprintf(&sb, "✅ Berhasil: %d\n", res.Success)
	if res.Duplicates > 0 {
		fmt.Fprintf(&sb, "♻️ Duplikat: %d\n", res.Duplicates)
	}
	if res.Invalid > 0 {
		fmt.Fprintf(&sb, "⚠️ Format salah: %d\n", res.Invalid)
	}
	if res.Failed > 0 {
		fmt.Fprintf(&sb, "❌ Gagal: %d\n", res.Failed)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatTake(res ledger.TakeResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ %d token diambil:\n", res.Count)
	for _, t := range res.Tokens {
		sb.WriteString("\n")
		sb.WriteString(t)
	}
	return sb.String()
}

func formatBan(res ledger.BanResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚫 Ban selesai: %d dari %d token\n", res.Success, res.Total)
	if res.NotFound > 0 {
		fmt.Fprintf(&sb, "🔍 Tidak ditemukan: %d\n", res.NotFound)
	}
	if res.AlreadyBanned > 0 {
		fmt.Fprintf(&sb, "♻️ Sudah di-ban: %d\n", res.AlreadyBanned)
	}
	if res.Failed > 0 {
		fmt.Fprintf(&sb, "❌ Gagal: %d\n", res.Failed)
	}
	owners := make([]string, 0, len(res.PerUser))
	for owner := range res.PerUser {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		loss := res.PerUser[owner]
		fmt.Fprintf(&sb, "👤 %s: %d token, -Rp %s\n", owner, loss.Count, ledger.FormatRupiah(loss.ValueLost))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatStats(s *ledger.Stats) string {
	return fmt.Sprintf("📊 Statistik Token\n\n"+
		"Total token: %d\n"+
		"Tersedia: %d\n"+
		"Diambil: %d\n"+
		"Di-ban: %d\n"+
		"Total nilai: Rp %s\n"+
		"User: %d (%d online)\n"+
		"Harga per token: Rp %s",
		s.TotalTokens, s.AvailableTokens, s.TakenTokens, s.BannedTokens,
		ledger.FormatRupiah(s.TotalValue), s.TotalUsers, s.OnlineUsers,
		ledger.FormatRupiah(s.PricePerToken))
}

func formatUserStats(u *models.User) string {
	return fmt.Sprintf("👤 %s\n\n"+
		"Token aktif: %d\n"+
		"Penghasilan: Rp %s\n"+
		"Token di-ban: %d",
		u.Username, u.TokenCount, ledger.FormatRupiah(u.TotalValue), u.BannedCount)
}

func formatOnline(users []string) string {
	if len(users) == 0 {
		return "Tidak ada user yang online."
	}
	return fmt.Sprintf("🟢 Online (%d):\n%s", len(users), strings.Join(users, "\n"))
}

func formatTokenInfo(info *ledger.TokenInfo) string {
	return fmt.Sprintf("🔍 Pemilik token: %s\nStatus: %s\nDitambahkan: %s\nHarga: Rp %s",
		info.Owner, info.Status, info.Timestamp, ledger.FormatRupiah(info.Price))
}
