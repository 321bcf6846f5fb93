// Package storagetest verifica se um storage.Backend segue o contrato
// posicional esperado pelo mailstore.
package storagetest

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/udokmeci/imapd/storage"
)

// Factory abre um backend vazio para um teste.
type Factory func(t *testing.T) storage.Backend

// Run executa os testes de contrato contra backends criados por open.
func Run(t *testing.T, open Factory) {
	t.Run("AppendOrder", func(t *testing.T) { testAppendOrder(t, open(t)) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, open(t)) })
	t.Run("Flags", func(t *testing.T) { testFlags(t, open(t)) })
	t.Run("Folders", func(t *testing.T) { testFolders(t, open(t)) })
	t.Run("Select", func(t *testing.T) { testSelect(t, open(t)) })
}

func mail(n int) []byte {
	return []byte(fmt.Sprintf("Subject: %d\r\n\r\nbody %d\r\n", n, n))
}

func appendN(t *testing.T, b storage.Backend, folder string, n int) []string {
	t.Helper()
	uids := make([]string, n)
	for i := range uids {
		uid, err := b.Append(mail(i+1), folder, nil, false)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		uids[i] = uid
	}
	return uids
}

func testAppendOrder(t *testing.T, b storage.Backend) {
	defer b.Close()
	uids := appendN(t, b, storage.Inbox, 5)

	if n, err := b.Count(storage.Inbox); err != nil || n != 5 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	seen := map[string]bool{}
	for i, uid := range uids {
		if seen[uid] {
			t.Fatalf("duplicate uid %s", uid)
		}
		seen[uid] = true

		seq, err := b.SeqForUID(uid, storage.Inbox)
		if err != nil || seq != i+1 {
			t.Errorf("SeqForUID(%s) = %d, %v; want %d", uid, seq, err, i+1)
		}
		got, err := b.UIDForSeq(i+1, storage.Inbox)
		if err != nil || got != uid {
			t.Errorf("UIDForSeq(%d) = %s, %v", i+1, got, err)
		}
		msg, err := b.Read(i+1, storage.Inbox)
		if err != nil {
			t.Fatalf("Read(%d): %v", i+1, err)
		}
		if string(msg.Raw) != string(mail(i+1)) || msg.UID != uid {
			t.Errorf("Read(%d) = %q (%s)", i+1, msg.Raw, msg.UID)
		}
	}
	if _, err := b.Read(6, storage.Inbox); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Read past end: err = %v", err)
	}
	if _, err := b.UIDForSeq(0, storage.Inbox); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UIDForSeq(0): err = %v", err)
	}
}

func testRemove(t *testing.T, b storage.Backend) {
	defer b.Close()
	uids := appendN(t, b, storage.Inbox, 4)

	if err := b.Remove(2, storage.Inbox); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := b.SeqForUID(uids[1], storage.Inbox); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("removed uid: err = %v", err)
	}
	for i, want := range map[int]int{2: 2, 3: 3} {
		if seq, _ := b.SeqForUID(uids[i], storage.Inbox); seq != want {
			t.Errorf("SeqForUID(uids[%d]) = %d, want %d", i, seq, want)
		}
	}
	if err := b.Remove(4, storage.Inbox); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Remove past end: err = %v", err)
	}
}

func testFlags(t *testing.T, b storage.Backend) {
	defer b.Close()
	if _, err := b.Append(mail(1), "", []string{imap.SeenFlag, imap.FlaggedFlag}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(mail(2), "", nil, false); err != nil {
		t.Fatal(err)
	}

	msg, err := b.Read(1, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{imap.SeenFlag, imap.FlaggedFlag, imap.RecentFlag} {
		if !msg.HasFlag(f) {
			t.Errorf("message 1 missing %s: %v", f, msg.Flags)
		}
	}
	msg, _ = b.Read(2, "")
	if len(msg.Flags) != 0 {
		t.Errorf("message 2 flags = %v", msg.Flags)
	}
}

func testFolders(t *testing.T, b storage.Backend) {
	defer b.Close()
	for _, f := range []string{"Sent", "a.b", "a.b", "Trash"} {
		if err := b.CreateFolder(f); err != nil {
			t.Fatalf("CreateFolder(%s): %v", f, err)
		}
	}
	got, err := b.ListFolders("", "*")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Sent", "a", "a.b", "Trash"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListFolders = %v, want %v", got, want)
	}

	appendN(t, b, "a.b", 2)
	if n, _ := b.Count("a.b"); n != 2 {
		t.Errorf("Count(a.b) = %d", n)
	}
	if n, _ := b.Count(storage.Inbox); n != 0 {
		t.Errorf("Count(INBOX) = %d", n)
	}
	if _, err := b.Count("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Count(missing): err = %v", err)
	}
	if _, err := b.Append(mail(1), "missing", nil, false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Append(missing): err = %v", err)
	}
}

func testSelect(t *testing.T, b storage.Backend) {
	defer b.Close()
	if got := b.CurrentFolder(); got != storage.Inbox {
		t.Fatalf("CurrentFolder = %q", got)
	}
	if err := b.CreateFolder("Work"); err != nil {
		t.Fatal(err)
	}
	if err := b.SelectFolder("Work"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(mail(1), "", nil, false); err != nil {
		t.Fatal(err)
	}
	if n, _ := b.Count("Work"); n != 1 {
		t.Errorf("append to selected folder: Count(Work) = %d", n)
	}
	if err := b.SelectFolder("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SelectFolder(missing): err = %v", err)
	}
	if got := b.CurrentFolder(); got != "Work" {
		t.Errorf("failed select changed folder to %q", got)
	}
	if err := b.SelectFolder("inbox"); err != nil || b.CurrentFolder() != storage.Inbox {
		t.Errorf("SelectFolder(inbox): %v, %q", err, b.CurrentFolder())
	}
}
