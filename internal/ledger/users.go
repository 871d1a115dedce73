package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"token-manager/internal/auth"
	"token-manager/internal/models"
	"token-manager/internal/store"
)

type LoginResult struct {
	Username     string `json:"username"`
	Role         string `json:"role"`
	InfoRequired bool   `json:"info_required"`
}

// AddUser registers a contributor. The write only succeeds if the record does
// not exist yet, so two admins adding the same name cannot both win.
func (e *Engine) AddUser(ctx context.Context, username, password, addedBy string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if !store.ValidKey(username) || username == models.AdminUsername {
		return nil, ErrInvalidUsername
	}

	var existing models.User
	etag, found, err := e.store.GetWithETag(ctx, userPath(username), &existing)
	if err != nil {
		return nil, fmt.Errorf("failed to check user %s: %w", username, err)
	}
	if found {
		return nil, ErrUserExists
	}

	u := models.User{
		Username: username,
		Role:     models.RoleUser,
		Created:  e.now(),
		AddedBy:  addedBy,
	}
	if password != "" {
		if u.Password, err = auth.HashPassword(password); err != nil {
			return nil, err
		}
	}
	if err := e.store.SetIfMatch(ctx, userPath(username), &u, etag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("gagal menambahkan user ke database: %w", err)
	}
	log.Printf("User %s added successfully", username)

	e.sink.Log(ctx, addedBy, "user_added", fmt.Sprintf("Menambahkan user: %s", username))
	e.sink.Broadcast(ctx, fmt.Sprintf("User baru %s telah ditambahkan oleh admin!", username))
	return &u, nil
}

// Authenticate checks credentials for either role. Users without a stored
// password may log in with any password.
func (e *Engine) Authenticate(ctx context.Context, username, password, role string) (*LoginResult, error) {
	if role == models.RoleAdmin {
		settings, err := e.Settings(ctx)
		if err != nil {
			return nil, err
		}
		if settings.AdminPassword == "" || !auth.CheckPassword(settings.AdminPassword, password) {
			return nil, ErrInvalidCredentials
		}
		e.sink.Log(ctx, models.AdminUsername, "login", "Admin berhasil masuk")
		return &LoginResult{Username: models.AdminUsername, Role: models.RoleAdmin}, nil
	}

	u, err := e.loadContributor(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if u.Password != "" && !auth.CheckPassword(u.Password, password) {
		return nil, ErrInvalidCredentials
	}
	if err := e.store.Update(ctx, userPath(u.Username), map[string]any{"last_login": e.now()}); err != nil {
		log.Printf("Failed to stamp last login of %s: %v", u.Username, err)
	}
	e.sink.Log(ctx, u.Username, "login", "User berhasil masuk")
	return &LoginResult{
		Username:     u.Username,
		Role:         models.RoleUser,
		InfoRequired: !u.InfoComplete(),
	}, nil
}

func (e *Engine) UpdatePassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}
	if _, err := e.loadContributor(ctx, username); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.Update(ctx, userPath(username), map[string]any{"password": hash}); err != nil {
		return fmt.Errorf("gagal mengubah password: %w", err)
	}
	e.sink.Log(ctx, username, "password_changed", "Password berhasil diubah")
	return nil
}

func (e *Engine) UpdateUserInfo(ctx context.Context, username string, info models.PersonalInfo) error {
	if _, err := e.loadContributor(ctx, username); err != nil {
		return err
	}
	err := e.store.Update(ctx, userPath(username), map[string]any{
		"wa":             strings.TrimSpace(info.WA),
		"rekening":       strings.TrimSpace(info.Rekening),
		"tgl_lahir":      strings.TrimSpace(info.TglLahir),
		"tempat_tinggal": strings.TrimSpace(info.TempatTinggal),
	})
	if err != nil {
		return fmt.Errorf("gagal menyimpan info: %w", err)
	}
	e.sink.Log(ctx, username, "info_updated", "User memperbarui info pribadi")
	return nil
}

func (e *Engine) UserStats(ctx context.Context, username string) (*models.User, error) {
	return e.loadContributor(ctx, username)
}

// ListUsers returns contributors, online ones first, then by token count.
func (e *Engine) ListUsers(ctx context.Context) ([]models.User, error) {
	all, err := e.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.Role != models.RoleUser {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := e.isOnline(out[i]), e.isOnline(out[j])
		if oi != oj {
			return oi
		}
		if out[i].TokenCount != out[j].TokenCount {
			return out[i].TokenCount > out[j].TokenCount
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

// DeleteUser removes a user that no longer holds any counted token. Token
// records keep the name as a historical reference.
func (e *Engine) DeleteUser(ctx context.Context, username, actor string) error {
	if !store.ValidKey(username) || username == models.AdminUsername {
		return ErrInvalidUsername
	}
	var u models.User
	etag, found, err := e.store.GetWithETag(ctx, userPath(username), &u)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", username, err)
	}
	if !found {
		return ErrUserNotRegistered
	}
	if u.TokenCount > 0 {
		return fmt.Errorf("%w: %d token", ErrUserHasTokens, u.TokenCount)
	}
	if err := e.store.SetIfMatch(ctx, userPath(username), nil, etag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("gagal menghapus user: %w", err)
	}
	if e.onDelete != nil {
		e.onDelete(username)
	}
	e.sink.Log(ctx, actor, "user_deleted", fmt.Sprintf("Menghapus user: %s", username))
	return nil
}
