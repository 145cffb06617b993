package account

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/legacy"
	"github.com/matheus3301/sigstate/internal/recipient"
	"github.com/matheus3301/sigstate/internal/store"
	"github.com/matheus3301/sigstate/internal/substore"
)

const self = "+15550000001"

var selfUUID = uuid.MustParse("0b7b2a1e-5c1d-4f0e-9f4a-1d2c3b4a5e6f")

func profileKey(b byte) *substore.ProfileKey {
	var k substore.ProfileKey
	for i := range k {
		k[i] = b
	}
	return &k
}

// failingStore rejects every write.
type failingStore struct {
	*store.Memory
}

func (failingStore) Set(string, string) error { return errors.New("disk full") }

func seed(t *testing.T, blob string) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	if err := m.Set(settingsKey, blob); err != nil {
		t.Fatal(err)
	}
	return m
}

func mustLoad(t *testing.T, bs BackingStore, opts ...Option) *State {
	t.Helper()
	st, err := Load(bs, opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return st
}

func TestSaveLoadRoundTrip(t *testing.T) {
	bs := store.NewMemory()
	pin := "1234"

	st := CreateLinked(self, selfUUID, "secret", 3, []byte("identity-key-pair"), 4242, "signaling", profileKey(9))
	st.SetRegistrationLockPin(&pin)
	st.AddPreKeys([]substore.PreKey{{ID: 0, Record: []byte("a")}, {ID: 1, Record: []byte("b")}})
	st.AddSignedPreKey(substore.SignedPreKey{ID: 0, Record: []byte("s")})

	bob := recipient.Ref{Address: recipient.Address{Number: "+15550000002"}}
	if err := st.Recipients.ResolveRef(&bob); err != nil {
		t.Fatal(err)
	}
	st.Protocol.StoreSession(bob, 1, []byte("session"))
	st.Protocol.SaveIdentity(bob, []byte("bob-key"), substore.TrustedUnverified, 1700000000000)
	st.Contacts.Update(&substore.Contact{Recipient: bob, Name: "Bob", MessageExpirationTime: 30, ProfileKey: profileKey(2)})
	st.Groups.Update(&substore.Group{ID: []byte{1, 2, 3}, Name: "G", Members: []recipient.Ref{bob}})
	st.Profiles.Update(&substore.Profile{Recipient: bob, GivenName: "Bob", LastUpdateTimestamp: 5})

	if err := Save(st, bs); err != nil {
		t.Fatal(err)
	}
	got := mustLoad(t, bs)
	if !reflect.DeepEqual(st, got) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, st)
	}
}

func TestCreateDefaults(t *testing.T) {
	st := Create(self, []byte("ikp"), 7, nil)

	if st.Registered || st.MultiDevice {
		t.Error("fresh account must be unregistered primary")
	}
	if st.DeviceID != PrimaryDeviceID {
		t.Errorf("DeviceID = %d", st.DeviceID)
	}
	if st.Recipients.Len() != 1 {
		t.Errorf("self not resolved: Len = %d", st.Recipients.Len())
	}
}

func TestExists(t *testing.T) {
	bs := store.NewMemory()
	if ok, err := Exists(bs); err != nil || ok {
		t.Fatalf("Exists on empty store = %v, %v", ok, err)
	}
	if err := Save(Create(self, []byte("ikp"), 7, nil), bs); err != nil {
		t.Fatal(err)
	}
	if ok, err := Exists(bs); err != nil || !ok {
		t.Fatalf("Exists after save = %v, %v", ok, err)
	}
}

func TestPreKeyCounters(t *testing.T) {
	tests := []struct {
		name  string
		start uint32
		add   int
		want  uint32
	}{
		{"from zero", 0, 100, 100},
		{"wraps at max", MediumMax - 3, 5, 2},
		{"exactly to max", MediumMax - 10, 10, 0},
		{"empty batch", 17, 0, 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Create(self, []byte("ikp"), 1, nil)
			st.PreKeyIDOffset = tt.start
			records := make([]substore.PreKey, tt.add)
			for i := range records {
				records[i] = substore.PreKey{ID: uint32(i), Record: []byte{byte(i)}}
			}
			st.AddPreKeys(records)
			if st.PreKeyIDOffset != tt.want {
				t.Errorf("PreKeyIDOffset = %d, want %d", st.PreKeyIDOffset, tt.want)
			}
			if len(st.Protocol.PreKeys) != tt.add {
				t.Errorf("stored %d pre-keys, want %d", len(st.Protocol.PreKeys), tt.add)
			}
		})
	}
}

func TestSignedPreKeyCounterWraps(t *testing.T) {
	st := Create(self, []byte("ikp"), 1, nil)
	st.NextSignedPreKeyID = MediumMax - 1
	st.AddSignedPreKey(substore.SignedPreKey{ID: MediumMax - 1, Record: []byte("x")})
	if st.NextSignedPreKeyID != 0 {
		t.Errorf("NextSignedPreKeyID = %d, want 0", st.NextSignedPreKeyID)
	}
	if _, ok := st.Protocol.LoadSignedPreKey(MediumMax - 1); !ok {
		t.Error("signed pre-key not stored")
	}
}

func TestNextPreKeyIDsWrap(t *testing.T) {
	st := Create(self, []byte("ikp"), 1, nil)
	st.PreKeyIDOffset = MediumMax - 1
	got := st.NextPreKeyIDs(3)
	want := []uint32{MediumMax - 1, 0, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NextPreKeyIDs = %v, want %v", got, want)
	}
}

func TestLoadWrapsOutOfRangeCounters(t *testing.T) {
	blob := `{"username":"+15550000001","password":"p","registered":true,
		"preKeyIdOffset":16777217,"nextSignedPreKeyId":-1,
		"axolotlStore":{"identityKey":"AQID","registrationId":1}}`
	st := mustLoad(t, seed(t, blob))
	if st.PreKeyIDOffset != 1 {
		t.Errorf("PreKeyIDOffset = %d, want 1", st.PreKeyIDOffset)
	}
	if st.NextSignedPreKeyID != MediumMax-1 {
		t.Errorf("NextSignedPreKeyID = %d, want %d", st.NextSignedPreKeyID, MediumMax-1)
	}
}

func TestLoadMissingFields(t *testing.T) {
	full := map[string]any{
		"username":     self,
		"password":     "p",
		"registered":   true,
		"axolotlStore": map[string]any{"identityKey": "AQID", "registrationId": 1},
	}
	for _, field := range []string{"username", "password", "registered", "axolotlStore"} {
		for _, mode := range []string{"absent", "null"} {
			t.Run(field+" "+mode, func(t *testing.T) {
				doc := map[string]any{}
				for k, v := range full {
					doc[k] = v
				}
				if mode == "absent" {
					delete(doc, field)
				} else {
					doc[field] = nil
				}
				data, _ := json.Marshal(doc)

				_, err := Load(seed(t, string(data)))
				var mf *MissingFieldError
				if !errors.As(err, &mf) {
					t.Fatalf("err = %v, want *MissingFieldError", err)
				}
				if mf.Field != field {
					t.Errorf("Field = %q, want %q", mf.Field, field)
				}
			})
		}
	}
}

func TestLoadMissingIdentityKey(t *testing.T) {
	blob := `{"username":"+15550000001","password":"p","registered":false,"axolotlStore":{"registrationId":1}}`
	_, err := Load(seed(t, blob))
	var mf *MissingFieldError
	if !errors.As(err, &mf) || mf.Field != "axolotlStore.identityKey" {
		t.Fatalf("err = %v, want missing axolotlStore.identityKey", err)
	}
}

func TestLoadInvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name      string
		extra     string
		wantField string
	}{
		{"account uuid", `"uuid":"nope"`, "uuid"},
		{"profile key not base64", `"profileKey":"***"`, "profileKey"},
		{"profile key short", `"profileKey":"AAAA"`, "profileKey"},
		{"contact uuid", `"contactStore":{"contacts":[{"address":{"uuid":"bad"}}]}`, "contactStore.uuid"},
		{"contact profile key", `"contactStore":{"contacts":[{"address":{"number":"+15550000002"},"profileKey":"AAAA"}]}`, "contactStore.profileKey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := `{"username":"+15550000001","password":"p","registered":true,` + tt.extra +
				`,"axolotlStore":{"identityKey":"AQID","registrationId":1}}`
			_, err := Load(seed(t, blob))
			var ie *InvalidIdentifierError
			if !errors.As(err, &ie) {
				t.Fatalf("err = %v, want *InvalidIdentifierError", err)
			}
			if ie.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ie.Field, tt.wantField)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"not json", "signal!"},
		{"wrong type", `{"username":42}`},
		{"bad section", `{"username":"+15550000001","password":"p","registered":true,
			"axolotlStore":{"identityKey":"AQID"},"groupStore":"oops"}`},
		{"bad thread store", `{"username":"+15550000001","password":"p","registered":true,
			"axolotlStore":{"identityKey":"AQID"},"threadStore":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(seed(t, tt.blob))
			var me *MalformedStateError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedStateError", err)
			}
		})
	}

	_, err := Load(store.NewMemory())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store err = %v, want ErrNotFound", err)
	}
}

func TestLoadLegacyDefaults(t *testing.T) {
	blob := `{"username":"+15550000001","password":"p","registered":true,
		"axolotlStore":{"identityKey":"AQID","registrationId":1}}`
	st := mustLoad(t, seed(t, blob))

	if st.DeviceID != PrimaryDeviceID || st.MultiDevice {
		t.Errorf("device = %d multi = %v", st.DeviceID, st.MultiDevice)
	}
	if st.PreKeyIDOffset != 0 || st.NextSignedPreKeyID != 0 {
		t.Errorf("counters = %d, %d", st.PreKeyIDOffset, st.NextSignedPreKeyID)
	}
	if st.StableID.Valid || st.ProfileKey != nil || st.SignalingKey != nil {
		t.Error("optional identifiers should be absent")
	}
	if len(st.Contacts.All()) != 0 || len(st.Groups.All()) != 0 || len(st.Profiles.Profiles) != 0 {
		t.Error("sub-stores should be empty")
	}
	if st.Recipients.Len() != 1 {
		t.Errorf("recipients = %d, want only self", st.Recipients.Len())
	}
	if _, ok := st.Recipients.Lookup(recipient.Address{Number: self}); !ok {
		t.Error("self not in recipient table")
	}
}

const legacyThreadBlob = `{
	"username": "+15550000001",
	"password": "p",
	"registered": true,
	"axolotlStore": {
		"identityKey": "AQID",
		"registrationId": 1,
		"sessions": [
			{"address": {"number": "+15550000003", "uuid": "8b1f3d2a-1c44-4e5f-8a9b-6c7d8e9f0a12"}, "deviceId": 1, "record": "AA=="}
		],
		"identities": [
			{"address": {"number": "+15550000002"}, "identityKey": "Ag==", "trustLevel": "TRUSTED_UNVERIFIED", "addedTimestamp": 1}
		]
	},
	"contactStore": {"contacts": [
		{"address": {"number": "+15550000002"}, "name": "Bob", "messageExpirationTime": 0}
	]},
	"groupStore": {"groups": [
		{"groupId": "AQIDBA==", "name": "G", "members": ["+15550000002", "+15550000003", "+15550000002"], "messageExpirationTime": 0}
	]},
	"threadStore": {"threads": [
		{"id": "+15550000002", "messageExpirationTime": 3600},
		{"id": "AQIDBA==", "messageExpirationTime": 60},
		{"id": "@@", "messageExpirationTime": 1},
		{"id": "", "messageExpirationTime": 9}
	]}
}`

func TestLoadLegacyThreadStore(t *testing.T) {
	var sunk []*legacy.ItemError
	st := mustLoad(t, seed(t, legacyThreadBlob),
		WithLogger(zap.NewNop()),
		WithMigrationSink(func(ie *legacy.ItemError) { sunk = append(sunk, ie) }),
	)

	if got := st.Contacts.Get(recipient.Address{Number: "+15550000002"}).MessageExpirationTime; got != 3600 {
		t.Errorf("contact expiration = %d, want 3600", got)
	}
	g := st.Groups.Get([]byte{1, 2, 3, 4})
	if g.MessageExpirationTime != 60 {
		t.Errorf("group expiration = %d, want 60", g.MessageExpirationTime)
	}
	if len(sunk) != 1 || sunk[0].ThreadID != "@@" {
		t.Errorf("sink = %v, want the undecodable thread only", sunk)
	}

	// self, bob, and the member whose session later taught us a uuid.
	if st.Recipients.Len() != 3 {
		t.Errorf("recipients = %d, want 3: %+v", st.Recipients.Len(), st.Recipients.All())
	}
	if len(g.Members) != 2 {
		t.Errorf("group members = %d, want 2 after dedup", len(g.Members))
	}
	for _, m := range g.Members {
		if m.ID == 0 {
			t.Errorf("member %v not resolved", m.Address)
		}
	}
	carol, ok := st.Recipients.Lookup(recipient.Address{Number: "+15550000003"})
	if !ok || !carol.Address.UUID.Valid {
		t.Errorf("session uuid not merged into member record: %+v", carol)
	}
	if st.Protocol.Sessions[0].Recipient.ID != carol.ID {
		t.Errorf("session ref id = %d, want %d", st.Protocol.Sessions[0].Recipient.ID, carol.ID)
	}
	bob, _ := st.Recipients.Lookup(recipient.Address{Number: "+15550000002"})
	if st.Protocol.Identities[0].Recipient.ID != bob.ID {
		t.Error("identity ref not resolved to bob")
	}
}

func TestLegacyUpgradeIsStable(t *testing.T) {
	bs := seed(t, legacyThreadBlob)
	first := mustLoad(t, bs)
	if err := Save(first, bs); err != nil {
		t.Fatal(err)
	}
	saved, _ := bs.Get(settingsKey, "")
	if strings.Contains(saved, "threadStore") {
		t.Error("thread store written back")
	}
	if !strings.Contains(saved, `"schemaVersion":2`) {
		t.Error("schema version not written")
	}

	second := mustLoad(t, bs)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reload after upgrade differs:\n got %+v\nwant %+v", second, first)
	}
	if err := Save(second, bs); err != nil {
		t.Fatal(err)
	}
	again, _ := bs.Get(settingsKey, "")
	if again != saved {
		t.Error("second save of an upgraded state changed the blob")
	}
}

func TestSaveEncodeFailureKeepsPreviousBlob(t *testing.T) {
	bs := store.NewMemory()
	st := Create(self, []byte("ikp"), 1, nil)
	if err := Save(st, bs); err != nil {
		t.Fatal(err)
	}
	before, _ := bs.Get(settingsKey, "")

	orig := marshalDocument
	marshalDocument = func(savedDocument) ([]byte, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { marshalDocument = orig })

	st.SetRegistered(true)
	err := Save(st, bs)
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "encode" {
		t.Fatalf("err = %v, want encode PersistenceError", err)
	}
	if after, _ := bs.Get(settingsKey, ""); after != before {
		t.Error("blob changed after failed encode")
	}
}

func TestSaveWriteFailure(t *testing.T) {
	mem := store.NewMemory()
	if err := Save(Create(self, []byte("ikp"), 1, nil), mem); err != nil {
		t.Fatal(err)
	}
	before, _ := mem.Get(settingsKey, "")

	st := mustLoad(t, mem)
	st.SetRegistered(true)
	err := Save(st, failingStore{mem})
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "write" {
		t.Fatalf("err = %v, want write PersistenceError", err)
	}
	if after, _ := mem.Get(settingsKey, ""); after != before {
		t.Error("blob changed after failed write")
	}
}

func TestImportUpgradesIntoDestination(t *testing.T) {
	dst := store.NewMemory()
	st, err := Import([]byte(legacyThreadBlob), dst)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.Handle != self {
		t.Errorf("handle = %q", st.Handle)
	}
	saved, _ := dst.Get(settingsKey, "")
	if !strings.Contains(saved, `"schemaVersion":2`) || strings.Contains(saved, "threadStore") {
		t.Error("imported blob not in current layout")
	}
	if got := mustLoad(t, dst).Recipients.Len(); got != st.Recipients.Len() {
		t.Errorf("reloaded recipients = %d, want %d", got, st.Recipients.Len())
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	dst := store.NewMemory()
	_, err := Import([]byte(`{"username":"+15550000001"}`), dst)
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingFieldError", err)
	}
	if ok, _ := Exists(dst); ok {
		t.Error("destination written after failed import")
	}

	if _, err := Import(nil, dst); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty import err = %v, want ErrNotFound", err)
	}
}
