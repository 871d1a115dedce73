package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"token-manager/internal/activity"
	"token-manager/internal/auth"
	"token-manager/internal/models"
	"token-manager/internal/store"
)

// Initialize seeds the default settings and the welcome chat message when they
// are missing. It is safe to call on every start.
func (e *Engine) Initialize(ctx context.Context, adminPassword string) error {
	var settings models.Settings
	found, err := e.store.Get(ctx, SettingsPath, &settings)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !found {
		hash, err := auth.HashPassword(adminPassword)
		if err != nil {
			return err
		}
		settings = models.Settings{
			AdminPassword: hash,
			PricePerToken: e.defaultPrice,
			Created:       e.now(),
		}
		if err := e.store.Set(ctx, SettingsPath, settings); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
		log.Println("Default settings created")
	}

	if err := e.ensureAdminRecord(ctx); err != nil {
		return err
	}

	found, err = e.store.Get(ctx, activity.MessagesPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load chat messages: %w", err)
	}
	if !found {
		e.sink.Broadcast(ctx, "Selamat datang di Grup Chat Token Manager!")
		log.Println("Welcome chat message created")
	}
	return nil
}

// ensureAdminRecord creates users/admin, which carries the admin's presence.
func (e *Engine) ensureAdminRecord(ctx context.Context) error {
	path := userPath(models.AdminUsername)
	var u models.User
	etag, found, err := e.store.GetWithETag(ctx, path, &u)
	if err != nil {
		return fmt.Errorf("failed to load admin record: %w", err)
	}
	if found && u.Role == models.RoleAdmin {
		return nil
	}
	u.Role = models.RoleAdmin
	if u.Created.IsZero() {
		u.Created = e.now()
	}
	if err := e.store.SetIfMatch(ctx, path, &u, etag); err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("failed to create admin record: %w", err)
	}
	return nil
}

// Settings returns the settings record, falling back to the default price.
func (e *Engine) Settings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	if _, err := e.store.Get(ctx, SettingsPath, &settings); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.PricePerToken <= 0 {
		settings.PricePerToken = e.defaultPrice
	}
	return &settings, nil
}

func (e *Engine) currentPrice(ctx context.Context) (int64, error) {
	settings, err := e.Settings(ctx)
	if err != nil {
		return 0, err
	}
	return settings.PricePerToken, nil
}

// UpdatePrice changes the price captured by tokens added from now on.
func (e *Engine) UpdatePrice(ctx context.Context, price int64, actor string) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	if err := e.store.Update(ctx, SettingsPath, map[string]any{"price_per_token": price}); err != nil {
		return fmt.Errorf("gagal memperbarui pengaturan: %w", err)
	}
	e.sink.Log(ctx, actor, "settings_updated", fmt.Sprintf("Harga token diubah menjadi %d", price))
	e.sink.Broadcast(ctx, fmt.Sprintf("Harga token diubah menjadi Rp %s oleh admin! 💲", FormatRupiah(price)))
	return nil
}

func (e *Engine) UpdateAdminPassword(ctx context.Context, password, actor string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := e.store.Update(ctx, SettingsPath, map[string]any{"admin_password": hash}); err != nil {
		return fmt.Errorf("gagal memperbarui pengaturan: %w", err)
	}
	e.sink.Log(ctx, actor, "settings_updated", "Password admin diubah")
	return nil
}
