// Package gateway is the event dispatcher. It keeps one event stream open,
// applies every inbound event to the cache in arrival order and then hands
// the resulting entity to the registered handlers.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/cenkalti/backoff/v4"
	"github.com/fuad-daoud/guildkit/apierr"
	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/logger/dlog"
	"github.com/fuad-daoud/guildkit/metrics"
	"github.com/fuad-daoud/guildkit/rest"
	"golang.org/x/net/context"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrClosed           = errors.New("dispatcher was disconnected")
	ErrAlreadyConnected = errors.New("dispatcher already connected")
)

// Stream is an open event stream. Close unblocks a pending Read.
type Stream interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a stream and completes the handshake. The first frame read
// from the stream is the ready event.
type Dialer interface {
	Dial(ctx context.Context, token rest.Token) (Stream, error)
}

type Dispatcher struct {
	caches     *cache.Caches
	registry   *Registry
	dialer     Dialer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
	resync     func(ctx context.Context) error
	onError    func(error)
	onState    func(from, to State)

	applyMu sync.Mutex
	lastSeq int64

	mu     sync.Mutex
	state  State
	closed bool
	token  rest.Token
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

type ConfigOpt func(d *Dispatcher)

func WithLogger(logger *slog.Logger) ConfigOpt {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOpt {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBackOff sets the reconnect policy. newBackOff is called once per
// dropped connection.
func WithBackOff(newBackOff func() backoff.BackOff) ConfigOpt {
	return func(d *Dispatcher) {
		if newBackOff != nil {
			d.newBackOff = newBackOff
		}
	}
}

// WithReconnectDelays bounds the exponential reconnect delay.
func WithReconnectDelays(initial, max time.Duration) ConfigOpt {
	return WithBackOff(func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		return b
	})
}

// WithResync runs resync after every reconnect, before events of the new
// stream are applied. A failing resync counts as a failed reconnect.
func WithResync(resync func(ctx context.Context) error) ConfigOpt {
	return func(d *Dispatcher) {
		d.resync = resync
	}
}

// WithErrorObserver receives decode failures, handler panics and reconnect
// failures. It runs on the dispatcher goroutine.
func WithErrorObserver(observer func(error)) ConfigOpt {
	return func(d *Dispatcher) {
		d.onError = observer
	}
}

func WithStateObserver(observer func(from, to State)) ConfigOpt {
	return func(d *Dispatcher) {
		d.onState = observer
	}
}

func New(caches *cache.Caches, registry *Registry, dialer Dialer, opts ...ConfigOpt) *Dispatcher {
	d := &Dispatcher{
		caches:   caches,
		registry: registry,
		dialer:   dialer,
		logger:   dlog.Logger(),
	}
	WithReconnectDelays(time.Second, time.Minute)(d)
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "gateway")
	return d
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done is closed once the read loop has stopped.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return d.done
}

// setStateLocked must be followed by notify once mu is released.
func (d *Dispatcher) setStateLocked(to State) (State, bool) {
	from := d.state
	d.state = to
	return from, from != to
}

func (d *Dispatcher) notify(from, to State, changed bool) {
	if !changed {
		return
	}
	d.metrics.State(int(to))
	d.logger.Debug("State changed", "from", from, "to", to)
	if d.onState != nil {
		d.onState(from, to)
	}
}

func (d *Dispatcher) transition(to State) {
	d.mu.Lock()
	if d.closed && to != Disconnected {
		d.mu.Unlock()
		return
	}
	from, changed := d.setStateLocked(to)
	d.mu.Unlock()
	d.notify(from, to, changed)
}

// Connect dials the stream and starts applying its events in the
// background. A failed handshake leaves the dispatcher Disconnected.
func (d *Dispatcher) Connect(ctx context.Context, token rest.Token) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.state != Disconnected {
		d.mu.Unlock()
		return ErrAlreadyConnected
	}
	from, changed := d.setStateLocked(Connecting)
	d.token = token
	d.mu.Unlock()
	d.notify(from, Connecting, changed)

	stream, err := d.dialer.Dial(ctx, token)
	if err != nil {
		d.transition(Disconnected)
		d.logger.Error("Handshake failed", "err", err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		stream.Close()
		return ErrClosed
	}
	d.stream = stream
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	from, changed = d.setStateLocked(Connected)
	d.mu.Unlock()
	d.notify(from, Connected, changed)

	d.logger.Info("Connected")
	go d.run(loopCtx, stream, done)
	return nil
}

// Disconnect stops the dispatcher for good. It never waits for a handler to
// return, so it is safe to call from one.
func (d *Dispatcher) Disconnect() {
	d.mu.Lock()
	d.closed = true
	cancel, stream := d.cancel, d.stream
	d.cancel, d.stream = nil, nil
	d.token = rest.Token{}
	from, changed := d.setStateLocked(Disconnected)
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
	d.notify(from, Disconnected, changed)
	if changed {
		d.logger.Info("Disconnected")
	}
}

func (d *Dispatcher) run(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)
	for {
		err := d.consume(ctx, stream)
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("Event stream dropped", "err", err)
		stream.Close()

		stream, err = d.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.report(fmt.Errorf("reconnect: %w", err))
			d.mu.Lock()
			cancel := d.cancel
			d.stream, d.cancel = nil, nil
			d.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			d.transition(Disconnected)
			return
		}
	}
}

func (d *Dispatcher) consume(ctx context.Context, stream Stream) error {
	for {
		raw, err := stream.Read(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.Apply(raw)
	}
}

func (d *Dispatcher) reconnect(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	d.stream = nil
	token := d.token
	d.mu.Unlock()
	d.transition(Reconnecting)

	var next Stream
	attempt := func() error {
		stream, err := d.dialer.Dial(ctx, token)
		if err != nil {
			if errors.Is(err, apierr.ErrAuthenticationFailed) {
				return backoff.Permanent(err)
			}
			return err
		}
		if d.resync != nil {
			if err := d.resync(ctx); err != nil {
				stream.Close()
				err = fmt.Errorf("resync: %w", err)
				if errors.Is(err, apierr.ErrAuthenticationFailed) {
					return backoff.Permanent(err)
				}
				return err
			}
		}
		next = stream
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn("Reconnect failed", "err", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(attempt, backoff.WithContext(d.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		next.Close()
		return nil, ErrClosed
	}
	d.stream = next
	from, changed := d.setStateLocked(Connected)
	d.mu.Unlock()
	d.notify(from, Connected, changed)

	d.applyMu.Lock()
	d.lastSeq = 0
	d.applyMu.Unlock()

	d.metrics.Reconnect()
	d.logger.Info("Reconnected")
	return next, nil
}

// Apply decodes one raw event, applies it to the cache and runs the
// handlers registered for its type. Calls are serialized.
func (d *Dispatcher) Apply(raw []byte) error {
	const op = "gateway.Apply"
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	js, err := simplejson.NewJson(raw)
	if err != nil {
		return d.fail(apierr.Decode(op, err))
	}
	typ, err := js.Get("type").String()
	if err != nil {
		return d.fail(apierr.Decode(op, fmt.Errorf("event without type: %w", err)))
	}
	event := Event{Type: EventType(typ)}
	event.Seq, _ = js.Get("seq").Int64()

	apply, ok := appliers[event.Type]
	if !ok {
		d.logger.Debug("Skipping unknown event", "type", typ)
		return nil
	}
	if event.Seq != 0 {
		if d.lastSeq != 0 && event.Seq != d.lastSeq+1 {
			d.logger.Warn("Event sequence gap", "last", d.lastSeq, "seq", event.Seq)
		}
		d.lastSeq = event.Seq
	}

	entity, err := apply(d.caches, js.Get("payload").Interface(), d.caches.Tick())
	if err != nil {
		return d.fail(apierr.Decode(op, fmt.Errorf("%s: %w", event.Type, err)))
	}
	event.Entity = entity
	d.metrics.Event(typ)

	d.registry.dispatch(event, func(herr *HandlerError) {
		d.metrics.HandlerFailure(typ)
		d.logger.Error("Handler failed", "type", typ, "handler", herr.HandlerID, "err", herr)
		d.report(herr)
	})
	return nil
}

func (d *Dispatcher) fail(err error) error {
	d.logger.Error("Event rejected", "err", err)
	d.report(err)
	return err
}

func (d *Dispatcher) report(err error) {
	if d.onError == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("Error observer panicked", "value", v)
		}
	}()
	d.onError(err)
}
