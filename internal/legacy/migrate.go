// Package legacy folds the retired thread store into the contact and group
// stores. Old account documents kept per-conversation settings in a separate
// thread list keyed by handle (1:1 chats) or base64 group id; today those
// settings live on the contact or group itself.
package legacy

import (
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/substore"
)

var (
	// ErrUndecodableID means a thread id is neither a known handle nor valid base64.
	ErrUndecodableID = errors.New("thread id is not a known contact and not a base64 group id")
	// ErrDanglingThread means a thread id decoded but matches no group.
	ErrDanglingThread = errors.New("thread matches no contact or group")
)

// Thread is one entry of the retired thread store.
type Thread struct {
	ID                    string `json:"id"`
	MessageExpirationTime int    `json:"messageExpirationTime"`
}

// ThreadStore is the retired thread store section. It is only ever read.
type ThreadStore struct {
	Threads []Thread `json:"threads"`
}

// Contacts is the part of the contact store the migration touches.
type Contacts interface {
	Get(addr recipient.Address) *substore.Contact
	Update(c *substore.Contact)
}

// Groups is the part of the group store the migration touches.
type Groups interface {
	Get(id []byte) *substore.Group
	Update(g *substore.Group)
}

// ItemError reports a thread that could not be migrated.
type ItemError struct {
	ThreadID string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("migrate thread %q: %v", e.ThreadID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Report summarizes one migration run.
type Report struct {
	Contacts int
	Groups   int
	Skipped  int
	Err      error
}

// Errors returns the individual per-thread failures.
func (r Report) Errors() []error {
	return multierr.Errors(r.Err)
}

// Migrator copies thread settings onto contacts and groups.
type Migrator struct {
	Contacts Contacts
	Groups   Groups
	Logger   *zap.Logger
	// Sink, if set, receives every per-thread failure as it happens.
	Sink func(*ItemError)
}

// Migrate applies every thread. A failing thread never aborts the run; its
// error is collected in the report. Running it twice yields the same stores.
func (m *Migrator) Migrate(threads []Thread) Report {
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var rep Report
	for _, th := range threads {
		if th.ID == "" {
			rep.Skipped++
			continue
		}

		if c := m.Contacts.Get(recipient.Address{Number: th.ID}); c != nil {
			c.MessageExpirationTime = th.MessageExpirationTime
			m.Contacts.Update(c)
			rep.Contacts++
			continue
		}

		groupID, err := base64.StdEncoding.DecodeString(th.ID)
		if err != nil {
			m.fail(&rep, log, &ItemError{ThreadID: th.ID, Err: fmt.Errorf("%w: %v", ErrUndecodableID, err)})
			continue
		}
		g := m.Groups.Get(groupID)
		if g == nil {
			m.fail(&rep, log, &ItemError{ThreadID: th.ID, Err: ErrDanglingThread})
			continue
		}
		g.MessageExpirationTime = th.MessageExpirationTime
		m.Groups.Update(g)
		rep.Groups++
	}

	log.Info("legacy threads migrated",
		zap.Int("contacts", rep.Contacts),
		zap.Int("groups", rep.Groups),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", len(rep.Errors())),
	)
	return rep
}

func (m *Migrator) fail(rep *Report, log *zap.Logger, ie *ItemError) {
	rep.Err = multierr.Append(rep.Err, ie)
	log.Warn("legacy thread not migrated", zap.String("thread", ie.ThreadID), zap.Error(ie.Err))
	if m.Sink != nil {
		m.Sink(ie)
	}
}
