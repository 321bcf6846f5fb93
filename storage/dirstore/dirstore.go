// Package dirstore implementa um backend de uma mensagem por arquivo.
//
// As mensagens da pasta raiz ficam em arquivos <uid>.eml no diretório do
// armazenamento; a pasta "a.b" é o diretório a/b. As flags vão no nome do
// arquivo (<uid>,RS.eml). O uid é um UUIDv7, então a ordem lexical dos
// arquivos é a ordem de gravação.
package dirstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/udokmeci/imapd/storage"
)

const ext = ".eml"

func init() {
	storage.Register("directory", open)
}

func open(cfg storage.Config) (storage.Backend, error) {
	if cfg.Path == "" {
		return nil, storage.ErrConfigInvalid
	}
	return New(cfg.Path)
}

// Store implementa storage.Backend sobre um diretório.
type Store struct {
	root    string
	current string
	folders []string        // ordem de criação
	recent  map[string]bool // uid -> \Recent nesta execução
}

type entry struct {
	uid   string
	file  string
	flags []string
}

// New abre (criando se preciso) o armazenamento em root.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório do armazenamento: %w", err)
	}
	s := &Store{
		root:    root,
		current: storage.Inbox,
		recent:  make(map[string]bool),
	}
	if err := s.scanFolders(root, ""); err != nil {
		return nil, fmt.Errorf("falha ao ler pastas: %w", err)
	}
	return s, nil
}

// Path retorna o diretório raiz.
func (s *Store) Path() string {
	return s.root
}

// scanFolders registra pastas já existentes em profundidade, em ordem
// lexical. Pastas criadas depois são anexadas em ordem de criação.
func (s *Store) scanFolders(dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.Contains(name, ".") {
			continue
		}
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		s.folders = append(s.folders, full)
		if err := s.scanFolders(filepath.Join(dir, name), full); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) resolve(folder string) string {
	if folder == "" {
		return s.current
	}
	return storage.NormalizeFolder(folder)
}

func (s *Store) folderPath(folder string) (string, error) {
	segs, err := storage.SplitFolder(s.resolve(folder))
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{s.root}, segs...)...), nil
}

func (s *Store) existingFolder(folder string) (string, error) {
	dir, err := s.folderPath(folder)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return "", storage.ErrFolderNotFound
	} else if err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) entries(folder string) (string, []entry, error) {
	dir, err := s.existingFolder(folder)
	if err != nil {
		return "", nil, err
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}

	var list []entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		uid, letters, _ := strings.Cut(strings.TrimSuffix(name, ext), ",")
		list = append(list, entry{
			uid:   uid,
			file:  name,
			flags: storage.ParseFlagLetters(letters),
		})
	}
	// a posição segue a ordem dos uids
	sort.Slice(list, func(i, j int) bool { return list[i].uid < list[j].uid })
	return dir, list, nil
}

func (s *Store) at(seq int, folder string) (string, entry, error) {
	dir, list, err := s.entries(folder)
	if err != nil {
		return "", entry{}, err
	}
	if seq < 1 || seq > len(list) {
		return "", entry{}, storage.ErrMessageNotFound
	}
	return dir, list[seq-1], nil
}

// Append implementa storage.Backend.
func (s *Store) Append(raw []byte, folder string, flags []string, recent bool) (string, error) {
	dir, err := s.existingFolder(folder)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	uid := id.String()
	name := uid
	if letters := storage.FlagLetters(flags); letters != "" {
		name += "," + letters
	}
	name += ext

	// grava em arquivo oculto e renomeia, para nunca listar metade de uma mensagem
	tmpPath := filepath.Join(dir, "."+uid+".tmp")
	if err := os.WriteFile(tmpPath, raw, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	if recent {
		s.recent[uid] = true
	}
	return uid, nil
}

// Remove implementa storage.Backend.
func (s *Store) Remove(seq int, folder string) error {
	dir, e, err := s.at(seq, folder)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, e.file)); err != nil {
		return err
	}
	delete(s.recent, e.uid)
	return nil
}

// Read implementa storage.Backend.
func (s *Store) Read(seq int, folder string) (*storage.Message, error) {
	dir, e, err := s.at(seq, folder)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, e.file))
	if err != nil {
		return nil, err
	}
	return &storage.Message{
		UID:    e.uid,
		Folder: s.resolve(folder),
		Raw:    raw,
		Flags:  storage.WithRecent(e.flags, s.recent[e.uid]),
	}, nil
}

// SelectFolder implementa storage.Backend.
func (s *Store) SelectFolder(folder string) error {
	folder = storage.NormalizeFolder(folder)
	if _, err := s.existingFolder(folder); err != nil {
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
	_, list, err := s.entries(folder)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// SeqForUID implementa storage.Backend.
func (s *Store) SeqForUID(uid, folder string) (int, error) {
	_, list, err := s.entries(folder)
	if err != nil {
		return 0, err
	}
	for i, e := range list {
		if e.uid == uid {
			return i + 1, nil
		}
	}
	return 0, storage.ErrMessageNotFound
}

// UIDForSeq implementa storage.Backend.
func (s *Store) UIDForSeq(seq int, folder string) (string, error) {
	_, e, err := s.at(seq, folder)
	if err != nil {
		return "", err
	}
	return e.uid, nil
}

// CreateFolder implementa storage.Backend.
func (s *Store) CreateFolder(path string) error {
	segs, err := storage.SplitFolder(path)
	if err != nil {
		return err
	}
	for i := range segs {
		name := strings.Join(segs[:i+1], ".")
		dir := filepath.Join(append([]string{s.root}, segs[:i+1]...)...)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("falha ao criar pasta %s: %w", name, err)
		}
		if !s.known(name) {
			s.folders = append(s.folders, name)
		}
	}
	return nil
}

func (s *Store) known(name string) bool {
	for _, f := range s.folders {
		if f == name {
			return true
		}
	}
	return false
}

// ListFolders implementa storage.Backend.
func (s *Store) ListFolders(parent, pattern string) ([]string, error) {
	return storage.MatchFolders(s.folders, parent, pattern)
}

// Close implementa storage.Backend.
func (s *Store) Close() error {
	return nil
}

var _ storage.Backend = (*Store)(nil)
