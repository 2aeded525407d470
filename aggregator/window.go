package aggregator

import (
	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/keystore"
	"github.com/Thiagojm/entropic_chaos_go/pool"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
	"github.com/Thiagojm/entropic_chaos_go/seriallink"
	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

// ProcessWindow drains the pool and turns its contents into one key. It
// returns false when the pool was empty. Stage failures are reported to
// the observer and never stop the window: a key that cannot be wrapped is
// kept classical, a key that cannot be persisted is still counted.
func (a *Aggregator) ProcessWindow() (KeyEvent, bool) {
	a.procMu.Lock()
	defer a.procMu.Unlock()

	chunks := a.pool.Drain()
	a.obs.OnPoolLevel(a.pool.Level(), a.pool.Len())
	if len(chunks) == 0 {
		return KeyEvent{}, false
	}

	raw := pool.Bytes(chunks)
	if a.capture != nil {
		_ = a.stage("capture", func() error {
			_, err := a.capture.Write(raw)
			return err
		})
	}

	material := raw
	if a.cfg.HostRNG {
		_ = a.stage("host_rng", func() error {
			extra, err := a.random(HostRNGBytes)
			if err != nil {
				return err
			}
			material = append(append(make([]byte, 0, len(raw)+len(extra)), raw...), extra...)
			return nil
		})
	}

	sample := raw
	if a.cfg.AuditHostRNG {
		sample = material
	}
	var res stattest.Result
	if err := a.stage("audit", func() (err error) {
		res, err = a.auditor.Audit(sample)
		return err
	}); err != nil {
		res = stattest.Result{SampleSize: len(sample)}
	}
	a.obs.OnAudit(res)

	key := DeriveKey(material)
	ev := KeyEvent{
		Audit: res,
		PQC:   Decide(a.cfg.PQC && (a.cfg.KEM || a.cfg.Sign), a.pqcAvailable(), res),
	}
	a.obs.OnDecision(ev.PQC)

	var rec pqc.Record
	if ev.PQC.Decision == DecisionEligible {
		_ = a.stage("pqc", func() error {
			out := pqc.NewWrapper(pqc.Strategies(a.provider, a.cfg.KEM, a.cfg.Sign)...).Wrap(key)
			ev.Failures = out.Failures
			for _, f := range out.Failures {
				a.log.WithFields(logrus.Fields{"strategy": f.Strategy}).WithError(f.Err).Warn("wrapping strategy failed")
			}
			if out.Record == nil {
				ev.Fallback = true
				if isUnavailable(out.Failures) {
					a.pqcOff.Store(true)
					a.log.Warn("PQC backend unavailable, wrapping disabled for this session")
				}
				return nil
			}
			rec, ev.Strategy = out.Record, out.Strategy
			return nil
		})
		if rec == nil {
			ev.Fallback = true
		}
	}
	if rec == nil {
		rec = pqc.Classical{Key: key}
	}
	ev.Record = rec

	ev.Number = a.keys.Add(1)
	meta := keystore.Metadata{
		KeyNumber:    ev.Number,
		EntropyBytes: len(material),
		PQCReady:     res.PQCReady,
		AuditScore:   res.Score,
		EntropyBPB:   res.Entropy.BitsPerByte,
	}
	_ = a.stage("persist", func() error {
		entry, art, err := a.store.Persist(rec, meta, a.cfg.AutoSave)
		ev.Entry, ev.Artifacts = entry, art
		return err
	})

	a.obs.OnKey(ev)
	return ev, true
}

// LinkHandler routes device traffic into the aggregator: TRNG frames feed
// the pool, everything else goes to the observer.
func (a *Aggregator) LinkHandler() seriallink.Handler {
	return linkHandler{a}
}

type linkHandler struct{ a *Aggregator }

func (h linkHandler) OnStatus(st seriallink.DeviceStatus) { h.a.obs.OnDeviceStatus(st) }

func (h linkHandler) OnTRNG(frame []byte) { h.a.AddTRNG(frame) }

func (h linkHandler) OnTRNGState(state string) { h.a.obs.OnDeviceMessage("TRNG:" + state) }

func (h linkHandler) OnVersion(v string) { h.a.obs.OnDeviceMessage(v) }

func (h linkHandler) OnText(line string) { h.a.obs.OnDeviceMessage(line) }

func (h linkHandler) OnError(err error) {
	h.a.log.WithError(err).Warn("device link error")
	h.a.obs.OnError(err)
}
