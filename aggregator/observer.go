package aggregator

import (
	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/keystore"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
	"github.com/Thiagojm/entropic_chaos_go/seriallink"
	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

// KeyEvent reports one forged key.
type KeyEvent struct {
	Number    uint64
	Record    pqc.Record
	Audit     stattest.Result
	PQC       PQCStatus
	Strategy  string        // wrapping strategy that succeeded, empty for classical keys
	Failures  []pqc.Failure // strategies that failed before the result
	Fallback  bool          // eligible but every strategy failed
	Entry     keystore.Entry
	Artifacts *keystore.Artifacts
}

// Observer receives pipeline events. Calls come from the window, producer
// and link reader goroutines and must not block.
type Observer interface {
	OnAudit(stattest.Result)
	OnKey(KeyEvent)
	OnDecision(PQCStatus)
	OnPoolLevel(level float64, chunks int)
	OnKeystrokeRate(perSecond float64)
	OnDeviceStatus(seriallink.DeviceStatus)
	OnDeviceMessage(line string)
	OnError(err error)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) OnAudit(stattest.Result)                {}
func (NopObserver) OnKey(KeyEvent)                         {}
func (NopObserver) OnDecision(PQCStatus)                   {}
func (NopObserver) OnPoolLevel(float64, int)               {}
func (NopObserver) OnKeystrokeRate(float64)                {}
func (NopObserver) OnDeviceStatus(seriallink.DeviceStatus) {}
func (NopObserver) OnDeviceMessage(string)                 {}
func (NopObserver) OnError(error)                          {}

// LogObserver writes events through logrus.
type LogObserver struct {
	Log *logrus.Logger
}

// OnAudit logs the score summary at info.
func (o LogObserver) OnAudit(r stattest.Result) {
	o.Log.WithFields(logrus.Fields{
		"bytes":     r.SampleSize,
		"score":     r.Score,
		"bpb":       r.Entropy.BitsPerByte,
		"pqc_ready": r.PQCReady,
	}).Info("audit")
}

// OnKey logs the key number, record type and wrapping outcome.
func (o LogObserver) OnKey(ev KeyEvent) {
	f := logrus.Fields{
		"number":   ev.Number,
		"type":     ev.Record.Kind(),
		"decision": ev.PQC.Decision,
	}
	if ev.Strategy != "" {
		f["strategy"] = ev.Strategy
	}
	if ev.Artifacts != nil {
		f["artifact"] = ev.Artifacts.Name
	}
	if ev.Fallback {
		f["fallback"] = true
	}
	o.Log.WithFields(f).Info("key forged")
}

func (o LogObserver) OnDecision(s PQCStatus) {
	o.Log.WithField("decision", s.Decision).Debug(s.Reason)
}

func (o LogObserver) OnPoolLevel(level float64, chunks int) {
	o.Log.WithFields(logrus.Fields{"level": level, "chunks": chunks}).Trace("pool")
}

func (o LogObserver) OnKeystrokeRate(r float64) {
	o.Log.WithField("rate", r).Trace("keystrokes per second")
}

// OnDeviceStatus logs at debug.
func (o LogObserver) OnDeviceStatus(st seriallink.DeviceStatus) {
	o.Log.WithFields(logrus.Fields{
		"uptime":   st.Uptime(),
		"commands": st.Commands,
		"errors":   st.Errors,
		"wifi":     st.WiFiEntropyBytes,
		"usb":      st.USBEntropyBytes,
	}).Debug("device status")
}

func (o LogObserver) OnDeviceMessage(line string) {
	o.Log.WithField("device", true).Info(line)
}

// OnError logs at warning.
func (o LogObserver) OnError(err error) {
	o.Log.WithError(err).Warn("pipeline error")
}
