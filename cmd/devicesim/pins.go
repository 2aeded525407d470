package main

import (
	"strconv"
	"strings"
)

func parsePins(s string) (map[int]bool, error) {
	pins := make(map[int]bool)
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		pins[n] = true
	}
	return pins, nil
}
