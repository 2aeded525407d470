// Package aggregator runs the host pipeline. Producers push condensed
// chunks into a shared pool; every window the pool is drained, audited,
// turned into a classical key, optionally wrapped with a post-quantum
// strategy and persisted.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thiagojm/entropic_chaos_go/fault"
	"github.com/Thiagojm/entropic_chaos_go/keystore"
	"github.com/Thiagojm/entropic_chaos_go/pool"
	"github.com/Thiagojm/entropic_chaos_go/pqc"
	"github.com/Thiagojm/entropic_chaos_go/source"
	"github.com/Thiagojm/entropic_chaos_go/stattest"
)

var (
	ErrRunning   = errors.New("aggregator already running")
	ErrNoPersist = errors.New("aggregator: no key store")
)

// Auditor scores a sample. *stattest.Auditor implements it.
type Auditor interface {
	Audit(data []byte) (stattest.Result, error)
}

// Persister stores a forged key. *keystore.Store implements it.
type Persister interface {
	Persist(rec pqc.Record, meta keystore.Metadata, saveArtifacts bool) (keystore.Entry, *keystore.Artifacts, error)
}

// StatusRequester asks a device for a status report. *seriallink.Link
// implements it.
type StatusRequester interface {
	RequestStatus() error
}

// Deps are the collaborators of an Aggregator. Only Store is required.
type Deps struct {
	Store    Persister                   // required
	Provider pqc.Provider                // nil selects pqc.Absent
	Auditor  Auditor                     // nil selects a stattest.Auditor
	Observer Observer                    // nil selects NopObserver
	Pool     *pool.Pool                  // nil selects a new pool
	Capture  io.Writer                   // optional raw window capture
	Random   func(n int) ([]byte, error) // nil selects source.HostRandom
}

// StageError is a failure caught at a pipeline stage boundary.
type StageError struct {
	Stage string
	Err   error
}

// Error prefixes the stage name.
func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// Aggregator turns pooled entropy into one key per window.
type Aggregator struct {
	cfg      Config
	log      *logrus.Logger
	store    Persister
	provider pqc.Provider
	auditor  Auditor
	obs      Observer
	pool     *pool.Pool
	capture  io.Writer
	random   func(int) ([]byte, error)
	rate     *source.RateMeter

	keys   atomic.Uint64
	pqcOff atomic.Bool // set once the backend reports itself unavailable

	procMu sync.Mutex // one window at a time

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	producers []source.Producer
	link      StatusRequester
}

// New fills unset dependencies with their defaults. It fails without a Store.
func New(cfg Config, deps Deps) (*Aggregator, error) {
	if deps.Store == nil {
		return nil, ErrNoPersist
	}
	cfg.Window = ClampWindow(cfg.Window)
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if deps.Provider == nil {
		deps.Provider = pqc.Absent{}
	}
	if deps.Auditor == nil {
		deps.Auditor = stattest.NewAuditor(stattest.DefaultHistory)
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Pool == nil {
		deps.Pool = pool.New(cfg.PoolCapacity)
	}
	if deps.Random == nil {
		deps.Random = source.HostRandom
	}
	return &Aggregator{
		cfg:      cfg,
		log:      cfg.Logger,
		store:    deps.Store,
		provider: deps.Provider,
		auditor:  deps.Auditor,
		obs:      deps.Observer,
		pool:     deps.Pool,
		capture:  deps.Capture,
		random:   deps.Random,
		rate:     source.NewRateMeter(3 * time.Second),
	}, nil
}

// Config returns the effective configuration after defaults and clamping.
func (a *Aggregator) Config() Config { return a.cfg }

// Pool returns the pool producers feed.
func (a *Aggregator) Pool() *pool.Pool { return a.pool }

// KeysForged counts keys derived this session, persisted or not.
func (a *Aggregator) KeysForged() uint64 { return a.keys.Load() }

// Attach adds a producer. Producers attached while running start with the
// next Start.
func (a *Aggregator) Attach(p source.Producer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.producers = append(a.producers, p)
}

// AttachLink enables periodic STAT? polling while running.
func (a *Aggregator) AttachLink(l StatusRequester) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.link = l
}

// Running reports whether Start has been called without a matching Stop.
func (a *Aggregator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start launches the window loop, the producers and status polling. It
// returns immediately.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true

	a.wg.Add(1)
	go a.windowLoop(ctx)

	for _, p := range a.producers {
		a.wg.Add(1)
		go a.runProducer(ctx, p)
	}
	if a.link != nil {
		a.wg.Add(1)
		go a.pollStatus(ctx, a.link)
	}

	a.log.WithFields(logrus.Fields{
		"window":    a.cfg.Window,
		"producers": len(a.producers),
		"pqc":       a.cfg.PQC && pqc.Available(a.provider),
	}).Info("aggregator started")
	return nil
}

// Stop cancels the run, waits for the in-flight window and every producer,
// and releases the producers. A stopped aggregator can be started again.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.cancel = nil
	a.producers = nil
	a.mu.Unlock()
	a.log.WithField("keys", a.KeysForged()).Info("aggregator stopped")
}

func (a *Aggregator) windowLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.ProcessWindow()
		}
	}
}

func (a *Aggregator) runProducer(ctx context.Context, p source.Producer) {
	defer a.wg.Done()
	err := a.stage("producer "+p.Name(), func() error {
		err := p.Run(ctx, a)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if err == nil {
		a.log.WithField("producer", p.Name()).Debug("producer finished")
	}
}

func (a *Aggregator) pollStatus(ctx context.Context, l StatusRequester) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.stage("status poll", l.RequestStatus)
		}
	}
}

// stage runs fn, converting a panic or error into a reported StageError.
func (a *Aggregator) stage(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &StageError{Stage: name, Err: err}
			a.log.WithField("stage", name).WithError(err).Warn("stage failed")
			a.obs.OnError(err)
		}
	}()
	return fn()
}

// AddKeystroke implements source.Sink.
func (a *Aggregator) AddKeystroke(code int, at time.Time) {
	a.push(source.KeystrokeChunk(code, at))
	a.obs.OnKeystrokeRate(a.rate.Mark(at))
}

// AddMouse implements source.Sink.
func (a *Aggregator) AddMouse(x, y int) {
	a.push(source.MouseChunk(x, y))
}

// AddTRNG implements source.Sink.
func (a *Aggregator) AddTRNG(frame []byte) {
	if len(frame) == 0 {
		return
	}
	a.push(source.FrameChunk(frame))
}

func (a *Aggregator) push(c pool.Chunk) {
	a.pool.Push(c)
	a.obs.OnPoolLevel(a.pool.Level(), a.pool.Len())
}

// pqcAvailable is false for an absent backend and after the backend
// reported itself unavailable during this session.
func (a *Aggregator) pqcAvailable() bool {
	return pqc.Available(a.provider) && !a.pqcOff.Load()
}

var _ source.Sink = (*Aggregator)(nil)

// isUnavailable reports whether every failure says the backend is missing.
func isUnavailable(fs []pqc.Failure) bool {
	if len(fs) == 0 {
		return false
	}
	for _, f := range fs {
		if !fault.IsKind(f.Err, fault.KindPQCUnavailable) {
			return false
		}
	}
	return true
}
