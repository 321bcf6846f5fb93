package dirstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/udokmeci/imapd/storage"
	"github.com/udokmeci/imapd/storage/storagetest"
)

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := New(filepath.Join(t.TempDir(), "box"))
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	uid, err := s.Append([]byte("x"), "", []string{`\Seen`}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, uid+",S.eml")); err != nil {
		t.Errorf("message file: %v", err)
	}

	if err := s.CreateFolder("a.b"); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(filepath.Join(root, "a", "b")); err != nil || !fi.IsDir() {
		t.Errorf("folder dir: %v", err)
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestReopenKeepsFolders(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	s.CreateFolder("b.c")
	s.CreateFolder("a")
	s.Append([]byte("1"), "b.c", nil, true)

	again, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := again.ListFolders("", "*")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "b.c" {
		t.Errorf("folders after reopen = %v", got)
	}
	msg, err := again.Read(1, "b.c")
	if err != nil {
		t.Fatal(err)
	}
	if msg.HasFlag(`\Recent`) {
		t.Error("\\Recent survived reopen")
	}
}

func TestOpenViaRegistry(t *testing.T) {
	b, err := storage.Open(storage.Config{Type: "directory", Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*Store); !ok {
		t.Errorf("backend is %T", b)
	}
	if _, err := storage.Open(storage.Config{Type: "directory"}); err == nil {
		t.Error("expected error without path")
	}
}
