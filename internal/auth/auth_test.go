package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("rahasia")
	require.NoError(t, err)
	require.NotEqual(t, "rahasia", h)
	require.True(t, CheckPassword(h, "rahasia"))
	require.False(t, CheckPassword(h, "salah"))
	require.False(t, CheckPassword("", "rahasia"))
}

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT(secret, "budi", "user", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(secret, tok)
	require.NoError(t, err)
	require.Equal(t, "budi", claims.Username)
	require.Equal(t, "user", claims.Role)

	_, err = ParseJWT([]byte("other"), tok)
	require.Error(t, err)

	expired, err := SignJWT(secret, "budi", "user", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(secret, expired)
	require.Error(t, err)
}
