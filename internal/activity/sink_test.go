package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"token-manager/internal/models"
	"token-manager/internal/store"
)

func fixedClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestSinkMessagesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := NewSink(mem, fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	for i := 0; i < 5; i++ {
		s.Broadcast(ctx, fmt.Sprintf("msg %d", i))
	}
	s.Notify(ctx, "budi", "for budi")
	require.NoError(t, s.SendChat(ctx, "sari", "  halo  "))
	require.ErrorIs(t, s.SendChat(ctx, "sari", "   "), ErrEmptyMessage)

	msgs, err := s.Messages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "msg 4", msgs[0].Message)
	require.Equal(t, "budi", msgs[1].Target)
	require.Equal(t, models.MessageSystem, msgs[1].Type)
	require.Equal(t, "halo", msgs[2].Message)
	require.Equal(t, models.MessageUser, msgs[2].Type)
	require.Equal(t, "sari", msgs[2].User)
}

func TestSinkLogsNewestFirst(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := NewSink(mem, fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	s.Log(ctx, "admin", "login", "first")
	s.Log(ctx, "admin", "tokens_taken", "second")
	s.Log(ctx, "budi", "token_added", "third")

	logs, err := s.Logs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "third", logs[0].Details)
	require.Equal(t, "second", logs[1].Details)
}

func TestSinkSwallowsStoreFailures(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := NewSink(mem, nil)
	mem.SetUnavailable(true)

	s.Log(ctx, "admin", "login", "")
	s.Broadcast(ctx, "x")
	require.ErrorIs(t, s.SendChat(ctx, "budi", "hi"), store.ErrUnavailable)
	_, err := s.Messages(ctx, 10)
	require.ErrorIs(t, err, store.ErrUnavailable)

	mem.SetUnavailable(false)
	msgs, err := s.Messages(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
