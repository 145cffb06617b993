// Package receiver runs the long-lived receive loop: it polls the protocol
// engine for envelopes, keeps the recipient table current for every sender,
// and hands plain inbound messages to the host.
package receiver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/bus"
	"github.com/matheus3301/sigstate/internal/metrics"
	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/status"
)

var (
	// ErrPollTimeout is returned by a Poller when nothing arrived in time.
	// The loop treats it as a silent reconnect.
	ErrPollTimeout    = errors.New("receiver: poll timed out")
	ErrAlreadyRunning = errors.New("receiver: already running")
	ErrNoPoller       = errors.New("receiver: no protocol engine configured")
)

// Envelope is one decrypted unit delivered by the protocol engine.
type Envelope struct {
	Source    recipient.Address
	Timestamp int64
	Receipt   bool
	Data      *DataMessage
}

// DataMessage is the content of a data envelope. GroupID is set for group
// context messages.
type DataMessage struct {
	Timestamp int64
	Body      string
	GroupID   []byte
}

// Poller is the protocol engine's receive side. Poll waits up to timeout for
// envelopes, calls handle for each one, and returns ErrPollTimeout if none
// arrived. It must return promptly once ctx is cancelled.
type Poller interface {
	Poll(ctx context.Context, timeout time.Duration, handle func(Envelope)) error
}

// Host receives inbound messages and loop errors.
type Host interface {
	OnInboundMessage(sender, body string, timestamp int64)
	OnError(msg string)
}

// Resolver keeps the recipient table current for senders.
type Resolver interface {
	ResolveRecipient(addr recipient.Address) (recipient.ID, error)
}

// Config tunes the loop.
type Config struct {
	PollTimeout  time.Duration
	ErrorBackoff time.Duration
}

// DefaultConfig returns the loop defaults: one minute polls and a five
// second pause after a failed poll.
func DefaultConfig() Config {
	return Config{PollTimeout: time.Minute, ErrorBackoff: 5 * time.Second}
}

// Inbound is the bus payload for a forwarded message.
type Inbound struct {
	Sender    string
	Body      string
	Timestamp int64
}

// Receiver owns the receive loop goroutine.
type Receiver struct {
	poller   Poller
	host     Host
	resolver Resolver
	machine  *status.Machine
	bus      *bus.Bus
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
}

// New creates a receiver. resolver, machine and b may be nil.
func New(p Poller, h Host, resolver Resolver, machine *status.Machine, b *bus.Bus, cfg Config, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	def := DefaultConfig()
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	return &Receiver{
		poller:   p,
		host:     h,
		resolver: resolver,
		machine:  machine,
		bus:      b,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start launches the loop. It returns immediately.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poller == nil {
		return ErrNoPoller
	}
	if r.runningLocked() {
		return ErrAlreadyRunning
	}
	r.stopping.Store(false)
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.transition(status.Connecting)

	go r.loop(ctx, r.done)
	r.logger.Info("receive loop started", zap.Duration("poll_timeout", r.cfg.PollTimeout))
	return nil
}

// Stop signals the loop, cancels any in-flight poll and waits for the loop to
// exit. It is a no-op when the loop is not running.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return
	}
	r.stopping.Store(true)
	r.cancel()
	<-r.done
	r.done = nil
	r.cancel = nil
	r.transition(status.Stopped)
	r.logger.Info("receive loop stopped")
}

// Running reports whether the loop goroutine is active.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

// runningLocked also covers a loop that exited because its parent context
// was cancelled.
func (r *Receiver) runningLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// State returns the loop's current status.
func (r *Receiver) State() status.State {
	return r.machine.Current()
}

func (r *Receiver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if r.stopping.Load() || ctx.Err() != nil {
			return
		}

		err := r.poller.Poll(ctx, r.cfg.PollTimeout, r.handle)
		switch {
		case err == nil:
			metrics.PollsTotal.WithLabelValues("ok").Inc()
			r.transition(status.Receiving)
		case errors.Is(err, ErrPollTimeout):
			metrics.PollsTotal.WithLabelValues("timeout").Inc()
			r.transition(status.Reconnecting)
		case ctx.Err() != nil:
			return
		default:
			metrics.PollsTotal.WithLabelValues("error").Inc()
			r.logger.Warn("receive failed", zap.Error(err), zap.Duration("backoff", r.cfg.ErrorBackoff))
			r.transition(status.Error)
			r.publish(bus.KindPollError, err.Error())
			if r.host != nil {
				r.host.OnError(err.Error())
			}

			t := time.NewTimer(r.cfg.ErrorBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			r.transition(status.Connecting)
		}
	}
}

func (r *Receiver) handle(env Envelope) {
	if env.Source.Number == "" {
		metrics.EnvelopesTotal.WithLabelValues("unknown_sender").Inc()
		r.logger.Debug("dropping envelope without sender handle", zap.Stringer("source", env.Source))
		return
	}

	if r.resolver != nil {
		if _, err := r.resolver.ResolveRecipient(env.Source); err != nil {
			r.logger.Warn("failed to record sender", zap.Stringer("source", env.Source), zap.Error(err))
		}
	}

	switch {
	case env.Receipt:
		metrics.EnvelopesTotal.WithLabelValues("receipt").Inc()
		r.publish(bus.KindReceipt, env.Source.Number)
		return
	case env.Data == nil:
		metrics.EnvelopesTotal.WithLabelValues("other").Inc()
		return
	case len(env.Data.GroupID) > 0:
		// Group context is not delivered to the host yet.
		metrics.EnvelopesTotal.WithLabelValues("group").Inc()
		r.logger.Info("group message not forwarded", zap.String("sender", env.Source.Number))
		r.publish(bus.KindGroupMessage, env.Source.Number)
		return
	case env.Data.Body == "":
		metrics.EnvelopesTotal.WithLabelValues("empty").Inc()
		return
	}

	if r.host != nil {
		r.host.OnInboundMessage(env.Source.Number, env.Data.Body, env.Data.Timestamp)
	}
	metrics.EnvelopesTotal.WithLabelValues("forwarded").Inc()
	r.publish(bus.KindMessage, Inbound{
		Sender:    env.Source.Number,
		Body:      env.Data.Body,
		Timestamp: env.Data.Timestamp,
	})
}

func (r *Receiver) transition(to status.State) {
	if err := r.machine.Transition(to); err != nil {
		r.logger.Debug("status transition rejected", zap.Error(err))
	}
}

func (r *Receiver) publish(kind string, payload any) {
	if r.bus != nil {
		r.bus.Publish(bus.NewEvent(kind, payload))
	}
}
