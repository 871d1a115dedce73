package utils

import (
	"net"
)

// IsAllowedIP checks whether ip falls inside one of the allowed CIDR blocks.
// A bare address without a prefix length is treated as a single host.
func IsAllowedIP(ip string, allowedCIDRs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, cidr := range allowedCIDRs {
		if host := net.ParseIP(cidr); host != nil {
			if host.Equal(parsed) {
				return true
			}
			continue
		}
		_, netblock, err := net.ParseCIDR(cidr)
		if err != nil {
			// Skip invalid CIDR
			continue
		}
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}
