// Package engine owns the retry/correlation core: it accepts logical
// commands, drives send/await/retry cycles through device sessions, guards
// retries with the idempotency cache, and resolves each command to exactly
// one terminal outcome.
//
// Ownership boundary:
// - per-command state machine and attempt sequencing
// - per-device ingress queue and worker (one command in flight per device)
// - retry policy: backoff, attempt cap, recoverable-vs-terminal errors
//
// A device's failures never cross into another device's flow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/togglectl/internal/idempotency"
	"github.com/danmuck/togglectl/internal/observability"
	"github.com/danmuck/togglectl/internal/protocol/frame"
	"github.com/danmuck/togglectl/internal/protocol/session"
	"github.com/danmuck/togglectl/internal/protocol/wire"
	"github.com/danmuck/togglectl/internal/queue"
)

var (
	ErrInvalidConfig = errors.New("engine: invalid config")
	ErrEngineClosed  = errors.New("engine: closed")
)

// Session is the connection surface the engine drives. *session.DeviceSession
// satisfies it; tests substitute scripted fakes.
type Session interface {
	Connect(ctx context.Context) error
	Send(payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// SessionFactory builds a fresh single-use session for a device address.
type SessionFactory func(addr string) (Session, error)

// Config enumerates every tunable of the delivery core. Invalid
// combinations fail at construction, not mid-flight.
type Config struct {
	MaxAttempts    int
	Backoff        BackoffConfig
	QueueDepth     int
	Overflow       queue.OverflowPolicy
	EnqueueTimeout time.Duration
	OverallTimeout time.Duration
	ReuseSession   bool
	Session        session.Config
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 2,
		Backoff: BackoffConfig{
			Base:       250 * time.Millisecond,
			JitterFrac: 0.2,
		},
		QueueDepth:     32,
		Overflow:       queue.OverflowReject,
		EnqueueTimeout: time.Second,
		OverallTimeout: 30 * time.Second,
		Session:        session.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff.Base == 0 {
		c.Backoff = d.Backoff
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.Overflow == "" {
		c.Overflow = d.Overflow
	}
	if c.EnqueueTimeout == 0 {
		c.EnqueueTimeout = d.EnqueueTimeout
	}
	if c.OverallTimeout == 0 {
		c.OverallTimeout = d.OverallTimeout
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Backoff.Base <= 0 {
		return fmt.Errorf("%w: backoff base must be positive", ErrInvalidConfig)
	}
	if c.Backoff.JitterFrac < 0 || c.Backoff.JitterFrac >= 1 {
		return fmt.Errorf("%w: jitter fraction must be in [0,1)", ErrInvalidConfig)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("%w: queue depth must be positive", ErrInvalidConfig)
	}
	if _, err := queue.ParsePolicy(string(c.Overflow)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Overflow == queue.OverflowBlock && c.EnqueueTimeout <= 0 {
		return fmt.Errorf("%w: block overflow requires a positive enqueue timeout", ErrInvalidConfig)
	}
	return c.Session.Validate()
}

type deviceWorker struct {
	deviceID string
	q        *queue.Queue[*Command]
	rng      *rand.Rand

	mu   sync.Mutex
	sess Session // retained across attempts only when ReuseSession is set
}

func (w *deviceWorker) retained() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

func (w *deviceWorker) retain(s Session) {
	w.mu.Lock()
	w.sess = s
	w.mu.Unlock()
}

func (w *deviceWorker) dropRetained() {
	w.mu.Lock()
	if w.sess != nil {
		_ = w.sess.Close()
		w.sess = nil
	}
	w.mu.Unlock()
}

// Engine is the retry/correlation core. One worker goroutine per device
// serializes that device's attempts; devices run in parallel.
type Engine struct {
	cfg        Config
	cache      *idempotency.Cache
	sink       observability.Sink
	log        zerolog.Logger
	newSession SessionFactory

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*deviceWorker
	closed  bool
	wg      sync.WaitGroup
}

func New(cfg Config, cache *idempotency.Cache, sink observability.Sink, log zerolog.Logger) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		return nil, fmt.Errorf("%w: idempotency cache required", ErrInvalidConfig)
	}
	if sink == nil {
		sink = observability.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		cache:   cache,
		sink:    sink,
		log:     log.With().Str("component", "engine").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*deviceWorker),
	}
	e.newSession = func(addr string) (Session, error) {
		return session.New(addr, cfg.Session, log)
	}
	return e, nil
}

// Submit hands a command to its device's queue. A queue rejection resolves
// the command to FAILED(queue_full) with zero attempts and is also returned
// as an error.
func (e *Engine) Submit(cmd *Command) error {
	w, err := e.workerFor(cmd.DeviceID)
	if err != nil {
		cmd.resolve(Result{Outcome: OutcomeFailed, Reason: ReasonCancelled, Err: err})
		return err
	}
	if err := w.q.Enqueue(cmd.ctx, cmd); err != nil {
		res := Result{Outcome: OutcomeFailed, Err: err}
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			res.Reason = ReasonQueueFull
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			res.Reason = ReasonCancelled
		default:
			res.Reason = ReasonCancelled
		}
		cmd.resolve(res)
		return err
	}
	cmd.setState(StateQueued)
	e.reportDepth(w)
	return nil
}

// Execute submits cmd and blocks until its terminal outcome. Every
// submitted command is guaranteed to resolve: all suspension points inside
// the engine carry timeouts.
func (e *Engine) Execute(cmd *Command) Result {
	// A failed Submit resolves the command itself, so the wait below
	// returns either way.
	_ = e.Submit(cmd)
	return <-cmd.done
}

// Close stops all workers. Still-queued commands resolve as cancelled.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	workers := make([]*deviceWorker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	e.cancel()
	for _, w := range workers {
		w.q.Close()
	}
	e.wg.Wait()
	for _, w := range workers {
		w.dropRetained()
	}
}

func (e *Engine) workerFor(deviceID string) (*deviceWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if w, ok := e.workers[deviceID]; ok {
		return w, nil
	}
	q, err := queue.New[*Command](e.cfg.QueueDepth, e.cfg.Overflow, e.cfg.EnqueueTimeout)
	if err != nil {
		return nil, err
	}
	w := &deviceWorker{
		deviceID: deviceID,
		q:        q,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.workers[deviceID] = w
	e.wg.Add(1)
	go e.runWorker(w)
	return w, nil
}

func (e *Engine) runWorker(w *deviceWorker) {
	defer e.wg.Done()
	for {
		cmd, err := w.q.Dequeue(e.ctx)
		if err != nil {
			for _, queued := range w.q.Drain() {
				queued.resolve(Result{Outcome: OutcomeFailed, Reason: ReasonCancelled, Err: err})
			}
			return
		}
		e.reportDepth(w)
		if cmd.ctx.Err() != nil {
			cmd.resolve(Result{Outcome: OutcomeFailed, Reason: ReasonCancelled, Err: cmd.ctx.Err()})
			continue
		}
		e.runCommand(w, cmd)
	}
}

// runCommand drives one command through its attempts to a terminal outcome.
func (e *Engine) runCommand(w *deviceWorker, cmd *Command) {
	ctx := cmd.ctx
	if e.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(cmd.ctx, e.cfg.OverallTimeout)
		defer cancel()
	}
	log := e.log.With().Str("device_id", cmd.DeviceID).Str("msg_id", cmd.MsgID).Logger()

	var lastErr error
	allTimedOut := true
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			cmd.setState(StateRetry)
			delay := NextDelay(e.cfg.Backoff, attempt-1, w.rng)
			log.Debug().Int("attempt", attempt).Dur("backoff", delay).Msg("backing off before retry")
			if err := sleep(ctx, delay); err != nil {
				e.resolveCtxFailure(cmd, err, attempt-1)
				return
			}
			// The prior attempt's response may have landed after our local
			// timeout fired. Re-sending would toggle the device twice, so a
			// recorded success short-circuits without another frame.
			if out, ok := e.cache.Lookup(cmd.MsgID); ok && out == idempotency.OutcomeSuccess {
				log.Info().Int("attempt", attempt).Msg("late response already recorded, skipping resend")
				cmd.resolve(Result{Outcome: OutcomeSuccess, Attempts: attempt - 1})
				return
			}
		}

		started := time.Now()
		resp, err := e.attemptOnce(ctx, w, cmd)
		elapsed := time.Since(started)
		e.sink.Observe(observability.AttemptEvent{
			MsgID:    cmd.MsgID,
			DeviceID: cmd.DeviceID,
			Attempt:  attempt,
			Outcome:  attemptOutcome(resp, err),
			Elapsed:  elapsed,
		})

		if err == nil {
			if resp.Acked() {
				e.cache.Record(cmd.MsgID, idempotency.OutcomeSuccess)
				cmd.resolve(Result{Outcome: OutcomeSuccess, Attempts: attempt})
				return
			}
			// A nack is the device refusing the command; retrying would
			// re-apply an intent the device rejected.
			e.cache.Record(cmd.MsgID, idempotency.OutcomeFailed)
			cmd.resolve(Result{
				Outcome:  OutcomeFailed,
				Reason:   ReasonDeviceRejected,
				Err:      fmt.Errorf("engine: device nack: %s", resp.Detail),
				Attempts: attempt,
			})
			return
		}

		lastErr = err
		if ctx.Err() != nil {
			e.resolveCtxFailure(cmd, err, attempt)
			return
		}
		if !recoverable(err) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("unrecoverable transport failure")
			cmd.resolve(Result{Outcome: OutcomeFailed, Reason: ReasonProtocolError, Err: err, Attempts: attempt})
			return
		}
		if !timeoutClass(err) {
			allTimedOut = false
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("attempt failed")
	}

	reason := ReasonAttemptsExhausted
	if allTimedOut {
		reason = ReasonAllAttemptsTimedOut
	}
	cmd.resolve(Result{Outcome: OutcomeFailed, Reason: reason, Err: lastErr, Attempts: e.cfg.MaxAttempts})
}

// attemptOnce performs one transmission and waits for the correlated
// response. Responses carrying a foreign msg_id are logged and discarded,
// never misattributed.
func (e *Engine) attemptOnce(ctx context.Context, w *deviceWorker, cmd *Command) (wire.Response, error) {
	var sess Session
	if e.cfg.ReuseSession {
		sess = w.retained()
	}
	if sess == nil {
		s, err := e.newSession(cmd.Addr)
		if err != nil {
			return wire.Response{}, err
		}
		if err := s.Connect(ctx); err != nil {
			_ = s.Close()
			return wire.Response{}, err
		}
		sess = s
	}

	// Watcher closes the session on cancellation so a blocked read or write
	// cannot outlive the command.
	attemptDone := make(chan struct{})
	defer close(attemptDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-attemptDone:
		}
	}()

	payload, err := wire.EncodeCommand(wire.Command{
		Opcode:   cmd.Opcode,
		DeviceID: cmd.DeviceID,
		MsgID:    cmd.MsgID,
		State:    cmd.DesiredState,
	})
	if err != nil {
		w.retain(nil)
		_ = sess.Close()
		return wire.Response{}, err
	}

	if err := sess.Send(payload); err != nil {
		w.retain(nil)
		_ = sess.Close()
		return wire.Response{}, err
	}
	cmd.setState(StateSent)
	cmd.setState(StateAwaitingResponse)

	for {
		data, err := sess.Receive(ctx)
		if err != nil {
			w.retain(nil)
			_ = sess.Close()
			return wire.Response{}, err
		}
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			e.log.Warn().Err(err).Str("device_id", cmd.DeviceID).Msg("discarding malformed response payload")
			continue
		}
		if resp.MsgID != cmd.MsgID || resp.Opcode != cmd.Opcode {
			e.log.Warn().
				Str("device_id", cmd.DeviceID).
				Str("want_msg_id", cmd.MsgID).
				Str("got_msg_id", resp.MsgID).
				Msg("discarding uncorrelated response")
			continue
		}
		if e.cfg.ReuseSession {
			w.retain(sess)
		} else {
			_ = sess.Close()
		}
		return resp, nil
	}
}

func (e *Engine) resolveCtxFailure(cmd *Command, err error, attempts int) {
	reason := ReasonDeadlineExceeded
	if cmd.ctx.Err() != nil {
		reason = ReasonCancelled
	}
	cmd.resolve(Result{Outcome: OutcomeFailed, Reason: reason, Err: err, Attempts: attempts})
}

func (e *Engine) reportDepth(w *deviceWorker) {
	if r, ok := e.sink.(observability.QueueDepthRecorder); ok {
		r.RecordQueueDepth(w.deviceID, w.q.Len())
	}
}

// recoverable reports whether a fresh connection on a later attempt could
// plausibly succeed. Framing violations mean the peer is not speaking our
// protocol; everything transport-shaped is worth one more try.
func recoverable(err error) bool {
	if errors.Is(err, frame.ErrBadMagic) ||
		errors.Is(err, frame.ErrUnsupportedVersion) ||
		errors.Is(err, frame.ErrFrameTooLarge) {
		return false
	}
	return true
}

func timeoutClass(err error) bool {
	return errors.Is(err, session.ErrConnectTimeout) ||
		errors.Is(err, session.ErrSendTimeout) ||
		errors.Is(err, session.ErrRecvTimeout)
}

func attemptOutcome(resp wire.Response, err error) string {
	switch {
	case err == nil && resp.Acked():
		return "success"
	case err == nil:
		return "rejected"
	case timeoutClass(err):
		return "timeout"
	default:
		return "error"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
