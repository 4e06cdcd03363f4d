package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddVersionCreatesEntryLazily(t *testing.T) {
	doc := Document{}
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.0", PostID: 7, Revision: IntPtr(1)})

	if got := doc.TopicID("Asteroids"); got != 42 {
		t.Fatalf("TopicID() = %d, want 42", got)
	}
	record := doc.FindVersion("Asteroids", "1.0")
	if record == nil || record.PostID != 7 || *record.Revision != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestAddVersionKeepsIDsUnique(t *testing.T) {
	doc := Document{}
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.0", PostID: 7})
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.0", PostID: 9})

	if n := len(doc["Asteroids"].Versions); n != 1 {
		t.Fatalf("expected 1 version, got %d", n)
	}
	if doc["Asteroids"].Versions[0].PostID != 9 {
		t.Fatalf("record not replaced: %+v", doc["Asteroids"].Versions[0])
	}
}

func TestRemoveVersionDropsEmptyEntry(t *testing.T) {
	doc := Document{}
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.0", PostID: 7})
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.1", PostID: 8})

	if _, ok := doc.RemoveVersion("Asteroids", "1.0"); !ok {
		t.Fatal("expected 1.0 to be removed")
	}
	if _, exists := doc["Asteroids"]; !exists {
		t.Fatal("entry removed while a version remained")
	}
	removed, ok := doc.RemoveVersion("Asteroids", "1.1")
	if !ok || removed.PostID != 8 {
		t.Fatalf("unexpected removal: %+v %v", removed, ok)
	}
	if _, exists := doc["Asteroids"]; exists {
		t.Fatal("empty entry must be removed")
	}
	if _, ok := doc.RemoveVersion("Asteroids", "1.1"); ok {
		t.Fatal("removing from a missing entry should report false")
	}
}

func TestFindPostRequiresMatchingTopic(t *testing.T) {
	doc := Document{}
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.0", PostID: 7})
	doc.AddVersion("Lander", 43, VersionRecord{ID: "2.0", PostID: 11})

	match, ok := doc.FindPost(43, 11)
	if !ok || match.Project != "Lander" || match.Record.ID != "2.0" {
		t.Fatalf("unexpected match: %+v %v", match, ok)
	}
	if _, ok := doc.FindPost(42, 11); ok {
		t.Fatal("post id under a different topic must not match")
	}
	if _, ok := doc.FindPost(99, 7); ok {
		t.Fatal("unknown topic must not match")
	}
}

func TestFindPostIgnoresRecordsWithoutPost(t *testing.T) {
	doc := Document{}
	doc.AddVersion("Asteroids", 0, VersionRecord{ID: "1.0", PostID: 0, Revision: IntPtr(1)})

	if match, ok := doc.FindPost(0, 0); ok {
		t.Fatalf("a record that never reached the forum must not match: %+v", match)
	}
}

type recordedWrite struct {
	name    string
	payload string
	message string
}

type fakeRecorder struct {
	writes []recordedWrite
	err    error
}

func (f *fakeRecorder) Record(name string, payload []byte, message string) error {
	f.writes = append(f.writes, recordedWrite{name: name, payload: string(payload), message: message})
	return f.err
}

func TestStoreReadMissingReturnsEmpty(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	doc, err := store.Read(Review)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty document, got %v", doc)
	}
}

func TestStoreWriteRoundTripOmitsClearedRevision(t *testing.T) {
	dir := t.TempDir()
	recorder := &fakeRecorder{}
	store := NewStore(dir, recorder)

	doc := Document{}
	doc.AddVersion("Asteroids", 42, VersionRecord{ID: "1.0", PostID: 7})
	doc["Empty"] = &Entry{TopicID: 5}
	if err := store.Write(Public, doc, "approve Asteroids 1.0"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "manifest-public.json"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if strings.Contains(string(raw), "revision") {
		t.Fatalf("cleared revision should be omitted: %s", raw)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, exists := decoded["Empty"]; exists {
		t.Fatal("empty entry must not be written")
	}

	back, err := store.Read(Public)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !back.HasVersion("Asteroids", "1.0") {
		t.Fatalf("round trip lost version: %v", back)
	}

	if len(recorder.writes) != 1 || recorder.writes[0].name != "manifest-public.json" || recorder.writes[0].message != "approve Asteroids 1.0" {
		t.Fatalf("unexpected recorder calls: %+v", recorder.writes)
	}
}

func TestStoreWriteIgnoresRecorderFailure(t *testing.T) {
	store := NewStore(t.TempDir(), &fakeRecorder{err: errors.New("git unavailable")})
	doc := Document{}
	doc.AddVersion("Asteroids", 1, VersionRecord{ID: "1.0", PostID: 2})
	if err := store.Write(Review, doc, "submit"); err != nil {
		t.Fatalf("recorder failure must not fail the write: %v", err)
	}
}
