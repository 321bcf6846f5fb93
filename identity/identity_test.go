package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAllocateDense(t *testing.T) {
	s := New("")
	for i := 0; i < 5; i++ {
		id, err := s.Allocate(string(rune('a' + i)))
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if want := FirstID + uint64(i); id != want {
			t.Errorf("id = %d, want %d", id, want)
		}
	}
	if got := s.PeekNextID(); got != FirstID+5 {
		t.Errorf("PeekNextID = %d, want %d", got, FirstID+5)
	}
	if !s.Dirty() {
		t.Error("store should be dirty after Allocate")
	}
}

func TestBijection(t *testing.T) {
	s := New("")
	id, _ := s.Allocate("uid-1")

	uid, ok := s.UIDForID(id)
	if !ok || uid != "uid-1" {
		t.Fatalf("UIDForID(%d) = %q, %v", id, uid, ok)
	}
	back, ok := s.IDForUID(uid)
	if !ok || back != id {
		t.Fatalf("IDForUID(%q) = %d, %v", uid, back, ok)
	}
	if _, ok := s.UIDForID(id + 1); ok {
		t.Error("unexpected uid for unallocated id")
	}
	if _, ok := s.IDForUID("missing"); ok {
		t.Error("unexpected id for unknown uid")
	}
}

func TestAllocateDuplicate(t *testing.T) {
	s := New("")
	if _, err := s.Allocate("x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Allocate("x"); !errors.Is(err, ErrUIDExists) {
		t.Fatalf("err = %v, want ErrUIDExists", err)
	}
	if got := s.PeekNextID(); got != FirstID+1 {
		t.Errorf("failed Allocate consumed an id: next = %d", got)
	}
}

func TestRemoveNeverReuses(t *testing.T) {
	s := New("")
	a, _ := s.Allocate("a")
	b, _ := s.Allocate("b")

	if !s.Remove(b) {
		t.Fatal("Remove returned false")
	}
	if s.Remove(b) {
		t.Error("second Remove returned true")
	}
	if _, ok := s.IDForUID("b"); ok {
		t.Error("uid still mapped after Remove")
	}

	c, _ := s.Allocate("c")
	if c == a || c == b {
		t.Errorf("id %d reused", c)
	}
	if c != b+1 {
		t.Errorf("c = %d, want %d", c, b+1)
	}
}

func TestReserveRollback(t *testing.T) {
	s := New("")
	s.Allocate("a")

	id := s.Reserve()
	if id != FirstID+1 {
		t.Fatalf("Reserve = %d", id)
	}
	s.Rollback(id)
	if got := s.PeekNextID(); got != id {
		t.Errorf("next after rollback = %d, want %d", got, id)
	}

	id = s.Reserve()
	if err := s.Bind(id, "b"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	s.Rollback(id)
	if _, ok := s.IDForUID("b"); ok {
		t.Error("mapping survived rollback")
	}
	if got := s.PeekNextID(); got != id {
		t.Errorf("next = %d, want %d", got, id)
	}

	if err := s.Bind(FirstID+50, "z"); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Bind unreserved: err = %v", err)
	}
}

func TestRollbackOlderIDKeepsCounter(t *testing.T) {
	s := New("")
	first := s.Reserve()
	s.Reserve()
	s.Rollback(first)
	if got := s.PeekNextID(); got != FirstID+2 {
		t.Errorf("next = %d, want %d", got, FirstID+2)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "box.msgs.yml")
	s := New(path)
	s.Allocate("one")
	two, _ := s.Allocate("two")
	s.Allocate("three")
	s.Remove(two)

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.Dirty() {
		t.Error("dirty after Save")
	}

	loaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if loaded.Len() != 2 {
		t.Errorf("Len = %d, want 2", loaded.Len())
	}
	if got := loaded.PeekNextID(); got != FirstID+3 {
		t.Errorf("next = %d, want %d", got, FirstID+3)
	}
	if id, ok := loaded.IDForUID("three"); !ok || id != FirstID+2 {
		t.Errorf("IDForUID(three) = %d, %v", id, ok)
	}
	if _, ok := loaded.UIDForID(two); ok {
		t.Error("removed id came back after load")
	}
	if loaded.CreatedAt().Unix() != s.CreatedAt().Unix() {
		t.Error("createdAt not preserved")
	}
	if loaded.Dirty() {
		t.Error("dirty after load")
	}
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "none.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 || s.PeekNextID() != FirstID {
		t.Error("missing file should give an empty store")
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	os.WriteFile(path, []byte("nextId: [unterminated"), 0600)
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for corrupt document")
	}
}

func TestLoadDuplicateID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yml")
	doc := "nextId: 100002\nentries:\n  - {id: 100001, uid: a}\n  - {id: 100001, uid: b}\n"
	os.WriteFile(path, []byte(doc), 0600)
	if _, err := Open(path); !errors.Is(err, ErrIDExists) {
		t.Fatalf("Open = %v, want ErrIDExists", err)
	}
}

func TestLoadDuplicateUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yml")
	doc := "nextId: 100003\nentries:\n  - {id: 100001, uid: a}\n  - {id: 100002, uid: a}\n"
	os.WriteFile(path, []byte(doc), 0600)
	if _, err := Open(path); !errors.Is(err, ErrUIDExists) {
		t.Fatalf("Open = %v, want ErrUIDExists", err)
	}
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.yml")
	s := New(path)
	s.Allocate("a")
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists")
	}
	if err := s.Delete(); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}
