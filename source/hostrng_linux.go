//go:build linux

package source

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// HostRandom returns n bytes from getrandom(2).
func HostRandom(n int) ([]byte, error) {
	buf := make([]byte, n)
	for got := 0; got < n; {
		m, err := unix.Getrandom(buf[got:], 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getrandom: %w", err)
		}
		got += m
	}
	return buf, nil
}
