package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/account"
	"github.com/matheus3301/sigstate/internal/bus"
	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/status"
	"github.com/matheus3301/sigstate/internal/store"
	"github.com/matheus3301/sigstate/internal/substore"
)

type step struct {
	envelopes []Envelope
	err       error
}

// scriptPoller plays back steps, then blocks until cancelled.
type scriptPoller struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (p *scriptPoller) Poll(ctx context.Context, _ time.Duration, handle func(Envelope)) error {
	p.mu.Lock()
	if p.calls >= len(p.steps) {
		p.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	s := p.steps[p.calls]
	p.calls++
	p.mu.Unlock()

	for _, env := range s.envelopes {
		handle(env)
	}
	return s.err
}

func (p *scriptPoller) exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls >= len(p.steps)
}

type message struct {
	sender string
	body   string
	ts     int64
}

type recordingHost struct {
	mu       sync.Mutex
	messages []message
	errors   []string
}

func (h *recordingHost) OnInboundMessage(sender, body string, ts int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, message{sender, body, ts})
}

func (h *recordingHost) OnError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *recordingHost) snapshot() ([]message, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]message(nil), h.messages...), append([]string(nil), h.errors...)
}

type countingResolver struct {
	mu    sync.Mutex
	addrs []recipient.Address
}

func (r *countingResolver) ResolveRecipient(addr recipient.Address) (recipient.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs = append(r.addrs, addr)
	return recipient.ID(len(r.addrs)), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig() Config {
	return Config{PollTimeout: 10 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}
}

func from(number string) recipient.Address {
	return recipient.Address{Number: number}
}

func TestForwardingRules(t *testing.T) {
	poller := &scriptPoller{steps: []step{{envelopes: []Envelope{
		{Source: from("+15550000002"), Data: &DataMessage{Timestamp: 111, Body: "hello"}},
		{Source: from("+15550000003"), Receipt: true},
		{Source: from("+15550000004"), Data: &DataMessage{Timestamp: 222, Body: "in a group", GroupID: []byte{1}}},
		{Source: from("+15550000005"), Data: &DataMessage{Timestamp: 333}},
		{Source: recipient.Address{}, Data: &DataMessage{Timestamp: 444, Body: "who?"}},
		{Source: from("+15550000006")},
	}}}}
	host := &recordingHost{}
	resolver := &countingResolver{}
	b := bus.New()
	events, unsub := b.Subscribe("receiver.", 32)
	defer unsub()

	r := New(poller, host, resolver, nil, b, testConfig(), zap.NewNop())
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, poller.exhausted)
	r.Stop()

	msgs, errs := host.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("forwarded %d messages, want 1: %+v", len(msgs), msgs)
	}
	if msgs[0] != (message{"+15550000002", "hello", 111}) {
		t.Errorf("forwarded = %+v", msgs[0])
	}
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	// Every envelope with a handle is resolved, forwarded or not.
	if len(resolver.addrs) != 5 {
		t.Errorf("resolved %d senders, want 5", len(resolver.addrs))
	}

	kinds := map[string]int{}
	for len(events) > 0 {
		kinds[(<-events).Kind]++
	}
	if kinds[bus.KindMessage] != 1 || kinds[bus.KindReceipt] != 1 || kinds[bus.KindGroupMessage] != 1 {
		t.Errorf("events = %v", kinds)
	}
}

func TestTimeoutReconnectsSilently(t *testing.T) {
	poller := &scriptPoller{steps: []step{
		{err: ErrPollTimeout},
		{err: fmt.Errorf("read: %w", ErrPollTimeout)},
		{envelopes: []Envelope{{Source: from("+15550000002"), Data: &DataMessage{Timestamp: 1, Body: "after"}}}},
	}}
	host := &recordingHost{}
	machine := status.NewMachine(nil)

	r := New(poller, host, nil, machine, nil, testConfig(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return machine.Current() == status.Receiving })
	r.Stop()

	msgs, errs := host.snapshot()
	if len(errs) != 0 {
		t.Errorf("timeouts reported as errors: %v", errs)
	}
	if len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
	if machine.Current() != status.Stopped {
		t.Errorf("state = %s, want STOPPED", machine.Current())
	}
}

func TestErrorReportedAndLoopContinues(t *testing.T) {
	poller := &scriptPoller{steps: []step{
		{err: errors.New("connection reset")},
		{envelopes: []Envelope{{Source: from("+15550000002"), Data: &DataMessage{Timestamp: 7, Body: "still here"}}}},
	}}
	host := &recordingHost{}

	r := New(poller, host, nil, nil, nil, testConfig(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		msgs, _ := host.snapshot()
		return len(msgs) == 1
	})
	r.Stop()

	_, errs := host.snapshot()
	if len(errs) != 1 || errs[0] != "connection reset" {
		t.Errorf("errors = %v", errs)
	}
}

func TestStopInterruptsBlockedPoll(t *testing.T) {
	poller := &scriptPoller{}
	r := New(poller, &recordingHost{}, nil, nil, nil, Config{PollTimeout: time.Hour}, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !r.Running() {
		t.Fatal("not running after Start")
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	if r.Running() {
		t.Error("still running after Stop")
	}
	r.Stop()
}

func TestStartErrors(t *testing.T) {
	if err := New(nil, nil, nil, nil, nil, Config{}, nil).Start(context.Background()); !errors.Is(err, ErrNoPoller) {
		t.Errorf("err = %v, want ErrNoPoller", err)
	}

	r := New(&scriptPoller{}, nil, nil, nil, nil, Config{}, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestRestartAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(&scriptPoller{}, nil, nil, nil, nil, Config{}, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, func() bool { return !r.Running() })

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Stop()
}

// TestConcurrentReceiveAndForegroundSave drives the loop against a real
// account manager while the foreground keeps mutating and saving.
func TestConcurrentReceiveAndForegroundSave(t *testing.T) {
	bs := store.NewMemory()
	if err := account.Save(account.Create("+15550000001", []byte("ikp"), 1, nil), bs); err != nil {
		t.Fatal(err)
	}
	mgr, err := account.Open(bs)
	if err != nil {
		t.Fatal(err)
	}

	const senders = 25
	var envs []Envelope
	for i := 0; i < 100; i++ {
		envs = append(envs, Envelope{
			Source: from(fmt.Sprintf("+1555200%04d", i%senders)),
			Data:   &DataMessage{Timestamp: int64(i), Body: "m"},
		})
	}
	poller := &scriptPoller{}
	for i := 0; i < len(envs); i += 10 {
		poller.steps = append(poller.steps, step{envelopes: envs[i : i+10]})
	}
	host := &recordingHost{}

	r := New(poller, host, mgr, nil, nil, testConfig(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 40; i++ {
		if err := mgr.AddSignedPreKey(substore.SignedPreKey{ID: uint32(i), Record: []byte{1}}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, poller.exhausted)
	r.Stop()
	if err := mgr.Save(); err != nil {
		t.Fatal(err)
	}

	st, err := account.Load(bs)
	if err != nil {
		t.Fatal(err)
	}
	if st.Recipients.Len() != senders+1 {
		t.Errorf("recipients = %d, want %d", st.Recipients.Len(), senders+1)
	}
	if st.NextSignedPreKeyID != 40 {
		t.Errorf("NextSignedPreKeyID = %d, want 40", st.NextSignedPreKeyID)
	}
	if msgs, _ := host.snapshot(); len(msgs) != len(envs) {
		t.Errorf("forwarded %d, want %d", len(msgs), len(envs))
	}
}
