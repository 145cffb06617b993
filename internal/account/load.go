package account

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/legacy"
	"github.com/matheus3301/sigstate/internal/metrics"
	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/substore"
)

type options struct {
	logger *zap.Logger
	sink   func(*legacy.ItemError)
}

// Option configures Load and Open.
type Option func(*options)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMigrationSink receives every legacy record that could not be migrated.
func WithMigrationSink(fn func(*legacy.ItemError)) Option {
	return func(o *options) { o.sink = fn }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Exists reports whether bs holds account state.
func Exists(bs BackingStore) (bool, error) {
	raw, err := bs.Get(settingsKey, "")
	if err != nil {
		return false, &PersistenceError{Op: "read", Err: err}
	}
	return raw != "", nil
}

// Load reads and decodes the account state held by bs. Documents written by
// older versions are upgraded in memory; the upgrade is persisted by the next
// Save.
func Load(bs BackingStore, opts ...Option) (*State, error) {
	st, err := load(bs, buildOptions(opts))
	if err != nil {
		metrics.StateLoadsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.StateLoadsTotal.WithLabelValues("success").Inc()
	return st, nil
}

func load(bs BackingStore, o options) (*State, error) {
	log := o.logger

	raw, err := bs.Get(settingsKey, "")
	if err != nil {
		return nil, &PersistenceError{Op: "read", Err: err}
	}
	if raw == "" {
		return nil, &MalformedStateError{Err: ErrNotFound}
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &MalformedStateError{Err: err}
	}
	if err := doc.requireFields(); err != nil {
		return nil, err
	}

	st := &State{
		Handle:              *doc.Username,
		DeviceID:            PrimaryDeviceID,
		Password:            *doc.Password,
		Registered:          *doc.Registered,
		RegistrationLockPin: doc.RegistrationLockPin,
		SignalingKey:        doc.SignalingKey,
	}
	if doc.DeviceID != nil {
		st.DeviceID = *doc.DeviceID
	}
	if doc.IsMultiDevice != nil {
		st.MultiDevice = *doc.IsMultiDevice
	}
	if doc.UUID != nil && *doc.UUID != "" {
		id, err := uuid.Parse(*doc.UUID)
		if err != nil {
			return nil, &InvalidIdentifierError{Field: "uuid", Value: *doc.UUID, Err: err}
		}
		st.StableID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if doc.ProfileKey != nil && *doc.ProfileKey != "" {
		key, err := substore.ParseProfileKey(*doc.ProfileKey)
		if err != nil {
			return nil, &InvalidIdentifierError{Field: "profileKey", Value: *doc.ProfileKey, Err: err}
		}
		st.ProfileKey = key
	}
	if doc.PreKeyIDOffset != nil {
		st.PreKeyIDOffset = wrapCounter(*doc.PreKeyIDOffset)
	}
	if doc.NextSignedPreKeyID != nil {
		st.NextSignedPreKeyID = wrapCounter(*doc.NextSignedPreKeyID)
	}

	st.Protocol = substore.NewProtocolStore(nil, 0)
	if err := decodeSection("axolotlStore", doc.AxolotlStore, st.Protocol); err != nil {
		return nil, err
	}
	if len(st.Protocol.IdentityKeyPair) == 0 {
		return nil, &MissingFieldError{Field: "axolotlStore.identityKey"}
	}

	st.Groups = substore.NewGroupStore()
	st.Contacts = substore.NewContactStore()
	st.Profiles = substore.NewProfileStore()
	st.Recipients = recipient.NewStore()
	sections := []struct {
		name string
		raw  json.RawMessage
		into any
	}{
		{"groupStore", doc.GroupStore, st.Groups},
		{"contactStore", doc.ContactStore, st.Contacts},
		{"profileStore", doc.ProfileStore, st.Profiles},
		{"recipientStore", doc.RecipientStore, st.Recipients},
	}
	for _, sec := range sections {
		if !present(sec.raw) {
			continue
		}
		if err := decodeSection(sec.name, sec.raw, sec.into); err != nil {
			return nil, err
		}
	}

	up := doc.plan()
	if up.legacy {
		log.Info("upgrading legacy account state", zap.String("account", st.Handle))
	}
	if up.rebuildRecipients {
		rebuildRecipients(st, log)
	}
	if up.migrateThreads {
		var threads legacy.ThreadStore
		if err := decodeSection("threadStore", doc.ThreadStore, &threads); err != nil {
			return nil, err
		}
		m := &legacy.Migrator{
			Contacts: st.Contacts,
			Groups:   st.Groups,
			Logger:   log,
			Sink:     o.sink,
		}
		rep := m.Migrate(threads.Threads)
		metrics.MigratedRecordsTotal.WithLabelValues("contact").Add(float64(rep.Contacts))
		metrics.MigratedRecordsTotal.WithLabelValues("group").Add(float64(rep.Groups))
		metrics.MigratedRecordsTotal.WithLabelValues("skipped").Add(float64(rep.Skipped))
		metrics.MigratedRecordsTotal.WithLabelValues("failed").Add(float64(len(rep.Errors())))
	}

	log.Debug("account state loaded",
		zap.String("account", st.Handle),
		zap.Int("recipients", st.Recipients.Len()),
		zap.Int("contacts", len(st.Contacts.Contacts)),
		zap.Int("groups", len(st.Groups.Groups)),
	)
	return st, nil
}

// rebuildRecipients populates an empty recipient table from every reference
// in the sub-stores, rewriting each reference to its canonical form. Order
// matters for id allocation: self, contacts, group members, sessions,
// identities, profiles.
func rebuildRecipients(st *State, log *zap.Logger) {
	rs := st.Recipients
	resolve := func(kind string, ref *recipient.Ref) bool {
		if err := rs.ResolveRef(ref); err != nil {
			log.Warn("recipient reference not resolved", zap.String("source", kind), zap.Error(err))
			return false
		}
		return true
	}

	if _, err := rs.Resolve(st.SelfAddress()); err != nil {
		log.Warn("self address not resolved", zap.Error(err))
	}
	for _, c := range st.Contacts.Contacts {
		resolve("contact", &c.Recipient)
	}
	for _, g := range st.Groups.Groups {
		members := g.Members[:0]
		for i := range g.Members {
			ref := g.Members[i]
			if !resolve("group member", &ref) {
				continue
			}
			if slices.ContainsFunc(members, func(m recipient.Ref) bool { return m.ID == ref.ID }) {
				continue
			}
			members = append(members, ref)
		}
		g.Members = members
	}
	for _, s := range st.Protocol.Sessions {
		resolve("session", &s.Recipient)
	}
	for _, id := range st.Protocol.Identities {
		resolve("identity", &id.Recipient)
	}
	for _, p := range st.Profiles.Profiles {
		resolve("profile", &p.Recipient)
	}

	metrics.RecipientsRebuiltTotal.Inc()
	log.Info("recipient table rebuilt", zap.Int("recipients", rs.Len()))
}

// Save writes the whole state under the account key. The document is fully
// encoded before the single write, so a failure leaves the previously saved
// state in place.
func Save(st *State, bs BackingStore) error {
	start := time.Now()
	defer func() { metrics.StateSaveDurationSeconds.Observe(time.Since(start).Seconds()) }()

	data, err := marshalDocument(st.document())
	if err != nil {
		metrics.StateSavesTotal.WithLabelValues("failure").Inc()
		return &PersistenceError{Op: "encode", Err: err}
	}
	if err := bs.Set(settingsKey, string(data)); err != nil {
		metrics.StateSavesTotal.WithLabelValues("failure").Inc()
		return &PersistenceError{Op: "write", Err: err}
	}
	metrics.StateSavesTotal.WithLabelValues("success").Inc()
	return nil
}
