//go:build !linux

package source

import (
	crand "crypto/rand"
	"fmt"
)

// HostRandom returns n bytes from the operating system generator.
func HostRandom(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := crand.Read(buf); err != nil {
		return nil, fmt.Errorf("host random: %w", err)
	}
	return buf, nil
}
