// Package activity writes the append-only activity log and the chat channel
// used for system notifications.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"token-manager/internal/models"
	"token-manager/internal/store"
)

const (
	LogsPath     = "activity_logs"
	MessagesPath = "chat_messages"
)

var ErrEmptyMessage = errors.New("pesan tidak boleh kosong")

type Sink struct {
	store store.Store
	now   func() time.Time
}

func NewSink(st store.Store, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{store: st, now: now}
}

// Log appends an activity entry. Failures are logged and swallowed so the
// operation that triggered them is not affected.
func (s *Sink) Log(ctx context.Context, user, action, details string) {
	entry := models.ActivityLog{
		User:      user,
		Action:    action,
		Details:   details,
		Timestamp: s.now(),
	}
	if _, err := s.store.Push(ctx, LogsPath, entry); err != nil {
		log.Printf("Error logging activity %s for %s: %v", action, user, err)
		return
	}
	log.Printf("Activity logged: %s - %s", user, action)
}

// Broadcast posts a system message visible to everyone.
func (s *Sink) Broadcast(ctx context.Context, message string) {
	s.post(ctx, models.ChatMessage{
		User:      models.SystemSender,
		Message:   message,
		Timestamp: s.now(),
		Type:      models.MessageSystem,
	})
}

// Notify posts a system message addressed to one user.
func (s *Sink) Notify(ctx context.Context, target, message string) {
	s.post(ctx, models.ChatMessage{
		User:      models.SystemSender,
		Message:   message,
		Timestamp: s.now(),
		Type:      models.MessageSystem,
		Target:    target,
	})
}

func (s *Sink) post(ctx context.Context, msg models.ChatMessage) {
	if _, err := s.store.Push(ctx, MessagesPath, msg); err != nil {
		log.Printf("Error sending notification: %v", err)
	}
}

func (s *Sink) SendChat(ctx context.Context, user, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}
	msg := models.ChatMessage{
		User:      user,
		Message:   message,
		Timestamp: s.now(),
		Type:      models.MessageUser,
	}
	if _, err := s.store.Push(ctx, MessagesPath, msg); err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	return nil
}

// Messages returns the last limit chat messages, oldest first.
func (s *Sink) Messages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	var all map[string]models.ChatMessage
	if _, err := s.store.Get(ctx, MessagesPath, &all); err != nil {
		return nil, fmt.Errorf("failed to load chat messages: %w", err)
	}
	keys := sortedKeys(all)
	out := make([]models.ChatMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, all[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Logs returns the newest limit activity entries, newest first.
func (s *Sink) Logs(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	var all map[string]models.ActivityLog
	if _, err := s.store.Get(ctx, LogsPath, &all); err != nil {
		return nil, fmt.Errorf("failed to load activity logs: %w", err)
	}
	keys := sortedKeys(all)
	out := make([]models.ActivityLog, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		out = append(out, all[keys[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
