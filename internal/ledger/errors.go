package ledger

import "errors"

// Messages are user facing and shown as-is by the front ends.
var (
	ErrInvalidFormat         = errors.New("format token tidak valid")
	ErrDuplicateToken        = errors.New("token sudah ada")
	ErrUserNotRegistered     = errors.New("user belum terdaftar")
	ErrInsufficientAvailable = errors.New("token tersedia tidak mencukupi")
	ErrTokenNotFound         = errors.New("token tidak ditemukan dalam database")
	ErrUserExists            = errors.New("user sudah ada")
	ErrInvalidUsername       = errors.New("username tidak valid")
	ErrInvalidCredentials    = errors.New("password salah")
	ErrUserHasTokens         = errors.New("user masih memiliki token")
	ErrInvalidCount          = errors.New("jumlah token harus lebih dari 0")
	ErrInvalidPrice          = errors.New("harga token harus lebih dari 0")
	ErrEmptyPassword         = errors.New("password tidak boleh kosong")
	// ErrConflict means an aggregate kept changing underneath us for the whole
	// retry budget.
	ErrConflict = errors.New("data sedang diubah, coba lagi")
)
