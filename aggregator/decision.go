package aggregator

import (
	"crypto/sha256"
	"fmt"

	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

// KeyDomain separates classical key derivation from any other use of the
// pool bytes.
const KeyDomain = "CIPHER_CHAN_V2"

// DeriveKey is SHA-256(material || KeyDomain).
func DeriveKey(material []byte) []byte {
	h := sha256.New()
	h.Write(material)
	h.Write([]byte(KeyDomain))
	return h.Sum(nil)
}

// Decision says why a window was or was not wrapped.
type Decision string

const (
	DecisionDisabled    Decision = "disabled"
	DecisionUnavailable Decision = "unavailable"
	DecisionNotReady    Decision = "not_ready"
	DecisionEligible    Decision = "eligible"
)

// PQCStatus is the wrapping decision for one window and why it was made.
type PQCStatus struct {
	Decision Decision
	Reason   string
}

// Decide applies enabled, then available, then audit readiness, in that
// order.
func Decide(enabled, available bool, audit stattest.Result) PQCStatus {
	switch {
	case !enabled:
		return PQCStatus{DecisionDisabled, "PQC wrapping disabled"}
	case !available:
		return PQCStatus{DecisionUnavailable, "PQC backend not available"}
	case !audit.PQCReady:
		return PQCStatus{DecisionNotReady, fmt.Sprintf(
			"entropy not ready: score %.1f (need %.0f), %.2f bits/byte (need %.0f), %d bytes (need %d)",
			audit.Score, stattest.ReadyScore, audit.Entropy.BitsPerByte, stattest.ReadyEntropyBPB,
			audit.SampleSize, stattest.ReadyMinSample)}
	default:
		return PQCStatus{DecisionEligible, "entropy ready for PQC wrapping"}
	}
}
