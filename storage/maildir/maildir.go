// Package maildir implementa o backend Maildir++ usando emersion/go-maildir.
//
// A raiz do armazenamento é o INBOX; a pasta "a.b" é o maildir ".a.b".
package maildir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-maildir"
	"github.com/udokmeci/imapd/storage"
)

func init() {
	storage.Register("maildir", open)
}

func open(cfg storage.Config) (storage.Backend, error) {
	if cfg.Path == "" {
		return nil, storage.ErrConfigInvalid
	}
	return New(cfg.Path)
}

// Store implementa storage.Backend no formato Maildir++.
type Store struct {
	root    string
	current string
	folders []string
	order   map[string][]string // pasta -> chaves em ordem de chegada
	recent  map[string]bool
}

// New abre (criando se preciso) o maildir em root.
func New(root string) (*Store, error) {
	s := &Store{
		root:    root,
		current: storage.Inbox,
		order:   make(map[string][]string),
		recent:  make(map[string]bool),
	}
	if _, err := s.ensure(storage.Inbox); err != nil {
		return nil, fmt.Errorf("falha ao iniciar maildir: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || len(name) < 2 || name[0] != '.' {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, name, "cur")); err != nil {
			continue
		}
		s.folders = append(s.folders, name[1:])
	}
	sort.Strings(s.folders)
	return s, nil
}

func (s *Store) resolve(folder string) string {
	if folder == "" {
		return s.current
	}
	return storage.NormalizeFolder(folder)
}

func (s *Store) dirPath(folder string) (string, error) {
	if _, err := storage.SplitFolder(folder); err != nil {
		return "", err
	}
	if folder == storage.Inbox {
		return s.root, nil
	}
	return filepath.Join(s.root, "."+folder), nil
}

// ensure cria o maildir da pasta, com o marcador maildirfolder nas subpastas.
func (s *Store) ensure(folder string) (maildir.Dir, error) {
	path, err := s.dirPath(folder)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(path, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0700); err != nil {
			return "", err
		}
		dir := maildir.Dir(path)
		if err := dir.Init(); err != nil {
			return "", err
		}
		if folder != storage.Inbox {
			if err := os.WriteFile(filepath.Join(path, "maildirfolder"), nil, 0600); err != nil {
				return "", err
			}
		}
	}
	return maildir.Dir(path), nil
}

func (s *Store) dir(folder string) (string, maildir.Dir, error) {
	folder = s.resolve(folder)
	path, err := s.dirPath(folder)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(filepath.Join(path, "cur")); os.IsNotExist(err) {
		return "", "", storage.ErrFolderNotFound
	} else if err != nil {
		return "", "", err
	}
	return folder, maildir.Dir(path), nil
}

// keys devolve as chaves da pasta em ordem de chegada. Na primeira leitura
// de uma pasta a ordem vem do mtime dos arquivos.
func (s *Store) keys(folder string) (maildir.Dir, []string, error) {
	folder, dir, err := s.dir(folder)
	if err != nil {
		return "", nil, err
	}
	if keys, ok := s.order[folder]; ok {
		return dir, keys, nil
	}

	// mensagens entregues em new/ por terceiros contam como recentes
	unseen, err := dir.Unseen()
	if err != nil {
		return "", nil, err
	}
	for _, msg := range unseen {
		s.recent[msg.Key()] = true
	}

	msgs, err := dir.Messages()
	if err != nil {
		return "", nil, err
	}
	type item struct {
		key   string
		mtime int64
	}
	items := make([]item, 0, len(msgs))
	for _, msg := range msgs {
		var mtime int64
		if fi, err := os.Stat(msg.Filename()); err == nil {
			mtime = fi.ModTime().UnixNano()
		}
		items = append(items, item{key: msg.Key(), mtime: mtime})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mtime != items[j].mtime {
			return items[i].mtime < items[j].mtime
		}
		return items[i].key < items[j].key
	})
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.key
	}
	s.order[folder] = keys
	return dir, keys, nil
}

func (s *Store) at(seq int, folder string) (*maildir.Message, error) {
	dir, keys, err := s.keys(folder)
	if err != nil {
		return nil, err
	}
	if seq < 1 || seq > len(keys) {
		return nil, storage.ErrMessageNotFound
	}
	msg, err := dir.MessageByKey(keys[seq-1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrMessageNotFound, err)
	}
	return msg, nil
}

// Append implementa storage.Backend.
func (s *Store) Append(raw []byte, folder string, flags []string, recent bool) (string, error) {
	folder = s.resolve(folder)
	dir, keys, err := s.keys(folder)
	if err != nil {
		return "", err
	}

	msg, w, err := dir.Create(toMaildirFlags(flags))
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		_ = msg.Remove()
		return "", err
	}
	if err := w.Close(); err != nil {
		_ = msg.Remove()
		return "", err
	}

	key := msg.Key()
	s.order[folder] = append(keys, key)
	if recent {
		s.recent[key] = true
	}
	return key, nil
}

// Remove implementa storage.Backend.
func (s *Store) Remove(seq int, folder string) error {
	folder = s.resolve(folder)
	msg, err := s.at(seq, folder)
	if err != nil {
		return err
	}
	if err := msg.Remove(); err != nil && !os.IsNotExist(err) {
		return err
	}
	keys := s.order[folder]
	s.order[folder] = append(keys[:seq-1:seq-1], keys[seq:]...)
	delete(s.recent, msg.Key())
	return nil
}

// Read implementa storage.Backend.
func (s *Store) Read(seq int, folder string) (*storage.Message, error) {
	folder = s.resolve(folder)
	msg, err := s.at(seq, folder)
	if err != nil {
		return nil, err
	}
	rc, err := msg.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return &storage.Message{
		UID:    msg.Key(),
		Folder: folder,
		Raw:    raw,
		Flags:  storage.WithRecent(fromMaildirFlags(msg.Flags()), s.recent[msg.Key()]),
	}, nil
}

// SelectFolder implementa storage.Backend.
func (s *Store) SelectFolder(folder string) error {
	folder, _, err := s.dir(storage.NormalizeFolder(folder))
	if err != nil {
		return err
	}
	s.current = folder
	return nil
}

// CurrentFolder implementa storage.Backend.
func (s *Store) CurrentFolder() string {
	return s.current
}

// Count implementa storage.Backend.
func (s *Store) Count(folder string) (int, error) {
	_, keys, err := s.keys(folder)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// SeqForUID implementa storage.Backend.
func (s *Store) SeqForUID(uid, folder string) (int, error) {
	_, keys, err := s.keys(folder)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if k == uid {
			return i + 1, nil
		}
	}
	return 0, storage.ErrMessageNotFound
}

// UIDForSeq implementa storage.Backend.
func (s *Store) UIDForSeq(seq int, folder string) (string, error) {
	_, keys, err := s.keys(folder)
	if err != nil {
		return "", err
	}
	if seq < 1 || seq > len(keys) {
		return "", storage.ErrMessageNotFound
	}
	return keys[seq-1], nil
}

// CreateFolder implementa storage.Backend.
func (s *Store) CreateFolder(path string) error {
	segs, err := storage.SplitFolder(path)
	if err != nil {
		return err
	}
	for i := range segs {
		name := strings.Join(segs[:i+1], ".")
		if _, err := s.ensure(name); err != nil {
			return fmt.Errorf("falha ao criar pasta %s: %w", name, err)
		}
		known := false
		for _, f := range s.folders {
			if f == name {
				known = true
				break
			}
		}
		if !known {
			s.folders = append(s.folders, name)
		}
	}
	return nil
}

// ListFolders implementa storage.Backend.
func (s *Store) ListFolders(parent, pattern string) ([]string, error) {
	return storage.MatchFolders(s.folders, parent, pattern)
}

// Close implementa storage.Backend.
func (s *Store) Close() error {
	return nil
}

var flagMap = map[string]maildir.Flag{
	imap.SeenFlag:     maildir.FlagSeen,
	imap.AnsweredFlag: maildir.FlagReplied,
	imap.FlaggedFlag:  maildir.FlagFlagged,
	imap.DraftFlag:    maildir.FlagDraft,
	imap.DeletedFlag:  maildir.FlagTrashed,
}

func toMaildirFlags(flags []string) []maildir.Flag {
	var out []maildir.Flag
	for _, f := range flags {
		for name, mf := range flagMap {
			if strings.EqualFold(f, name) {
				out = append(out, mf)
			}
		}
	}
	return out
}

func fromMaildirFlags(flags []maildir.Flag) []string {
	var out []string
	for _, mf := range flags {
		for name, v := range flagMap {
			if v == mf {
				out = append(out, name)
			}
		}
	}
	return out
}

var _ storage.Backend = (*Store)(nil)
