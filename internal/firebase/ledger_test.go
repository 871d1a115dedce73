package firebase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"token-manager/internal/ledger"
	"token-manager/internal/models"
)

func TestLedgerOverREST(t *testing.T) {
	srv, _ := fakeDatabase(t, "secret")
	ctx := context.Background()
	c, err := Connect(ctx, srv.URL, "secret", 5*time.Second)
	require.NoError(t, err)

	e := ledger.New(c, nil, nil)
	require.NoError(t, e.Initialize(ctx, "admin2024"))
	_, err = e.AddUser(ctx, "budi", "", models.AdminUsername)
	require.NoError(t, err)

	tok := func(i int) string { return fmt.Sprintf("u%032x:abcdEFGH1234..ijklMNOP5678qrst==", i) }
	res, err := e.AddBulkTokens(ctx, tok(1)+"\n"+tok(2)+"\n"+tok(1), "budi", "budi")
	require.NoError(t, err)
	require.Equal(t, 2, res.Success)
	require.Equal(t, 1, res.Duplicates)

	ban, err := e.BanTokens(ctx, tok(2), models.AdminUsername)
	require.NoError(t, err)
	require.Equal(t, 1, ban.Success)

	u, err := e.UserStats(ctx, "budi")
	require.NoError(t, err)
	require.Equal(t, int64(1), u.TokenCount)
	require.Equal(t, int64(1500), u.TotalValue)
	require.Equal(t, int64(1), u.BannedCount)

	require.ErrorIs(t, e.DeleteUser(ctx, "budi", models.AdminUsername), ledger.ErrUserHasTokens)
}
