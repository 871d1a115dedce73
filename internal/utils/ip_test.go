package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAllowedIP(t *testing.T) {
	allowed := []string{"10.0.0.0/8", "not-a-cidr", "192.168.1.7", "fd00::/8"}

	require.True(t, IsAllowedIP("10.1.2.3", allowed))
	require.True(t, IsAllowedIP("192.168.1.7", allowed))
	require.True(t, IsAllowedIP("fd00::1", allowed))
	require.False(t, IsAllowedIP("192.168.1.8", allowed))
	require.False(t, IsAllowedIP("8.8.8.8", allowed))
	require.False(t, IsAllowedIP("garbage", allowed))
	require.False(t, IsAllowedIP("10.1.2.3", nil))
}
