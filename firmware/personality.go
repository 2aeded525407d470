package firmware

import (
	"math/rand/v2"
	"time"
)

type quipKind int

const (
	quipStartup quipKind = iota
	quipRGB
	quipForge
	quipErrors
)

var quips = map[quipKind][]string{
	quipStartup: {
		"*** cipher-tan online! Ready to wreak cryptographic havoc!",
		">>> Boot complete! Time to turn silicon into pure randomness!",
		"=== Systems online! My circuits are tingling with anticipation~",
	},
	quipRGB: {
		"~~~ RGB storm engaged! Each photon carries chaos~",
		"++> Painting the spectrum with randomness!",
	},
	quipForge: {
		"[*] Key forged in the fires of chaos!",
		"==> Digital gold synthesis achieved!",
		"(*) Perfect randomness locked away forever!",
	},
	quipErrors: {
		"[!] Minor glitch! I'm too advanced to stay broken~",
		"<!> System hiccup! Time for graceful recovery!",
	},
}

const quipGap = 2 * time.Second

// speak prints a personality line. Unforced lines are rate limited to one
// per two seconds and gated by the personality level.
func (e *Engine) speak(kind quipKind, force bool) {
	lines := quips[kind]
	if len(lines) == 0 {
		return
	}
	now := time.Now()
	e.mu.Lock()
	if !force {
		if now.Sub(e.lastQuip) < quipGap || e.roll() > e.settings.Personality {
			e.mu.Unlock()
			return
		}
	}
	e.lastQuip = now
	e.mu.Unlock()
	e.emit("[cipher-tan] " + lines[rand.IntN(len(lines))])
}
