// Package identity mantém o mapa persistente entre ids numéricos de
// mensagem e os uids dos backends.
//
// Os ids começam em FirstID, crescem de um em um e nunca são reaproveitados,
// nem depois de removidos. O documento em disco é YAML.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FirstID é o primeiro id atribuído por um Store novo.
const FirstID uint64 = 100001

var (
	// ErrUIDExists é retornado quando o uid já tem id
	ErrUIDExists = errors.New("uid já registrado")
	// ErrIDExists é retornado quando o documento repete um id
	ErrIDExists = errors.New("id repetido")

	// ErrUnknownID é retornado para ids que não estão no mapa
	ErrUnknownID = errors.New("id desconhecido")
)

// Store é o mapa id↔uid. Não é seguro para uso concorrente.
type Store struct {
	path      string
	nextID    uint64
	createdAt time.Time
	byID      map[uint64]string
	byUID     map[string]uint64
	dirty     bool
}

type document struct {
	NextID    uint64  `yaml:"nextId"`
	CreatedAt int64   `yaml:"createdAt"`
	Entries   []entry `yaml:"entries"`
}

type entry struct {
	ID  uint64 `yaml:"id"`
	UID string `yaml:"uid"`
}

// New cria um Store vazio associado a path, sem ler o arquivo.
func New(path string) *Store {
	return &Store{
		path:      path,
		nextID:    FirstID,
		createdAt: time.Now(),
		byID:      make(map[uint64]string),
		byUID:     make(map[string]uint64),
	}
}

// Open cria um Store para path e carrega o arquivo, se existir.
func Open(path string) (*Store, error) {
	s := New(path)
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	} else if err != nil {
		return nil, err
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path retorna o arquivo do documento.
func (s *Store) Path() string { return s.path }

// CreatedAt retorna o instante de criação do documento.
func (s *Store) CreatedAt() time.Time { return s.createdAt }

// Dirty informa se há alterações não salvas.
func (s *Store) Dirty() bool { return s.dirty }

// Len retorna o número de mapeamentos.
func (s *Store) Len() int { return len(s.byID) }

// PeekNextID retorna o id que a próxima alocação receberá.
func (s *Store) PeekNextID() uint64 { return s.nextID }

// Allocate atribui o próximo id ao uid.
func (s *Store) Allocate(uid string) (uint64, error) {
	if _, ok := s.byUID[uid]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUIDExists, uid)
	}
	id := s.Reserve()
	s.byID[id] = uid
	s.byUID[uid] = id
	return id, nil
}

// Reserve consome o próximo id sem associá-lo a um uid. O id deve ser
// ligado com Bind ou devolvido com Rollback.
func (s *Store) Reserve() uint64 {
	id := s.nextID
	s.nextID++
	s.dirty = true
	return id
}

// Bind associa um id reservado ao uid.
func (s *Store) Bind(id uint64, uid string) error {
	if _, ok := s.byUID[uid]; ok {
		return fmt.Errorf("%w: %s", ErrUIDExists, uid)
	}
	if id >= s.nextID {
		return fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	if _, ok := s.byID[id]; ok {
		return fmt.Errorf("id %d já associado", id)
	}
	s.byID[id] = uid
	s.byUID[uid] = id
	s.dirty = true
	return nil
}

// Rollback desfaz uma reserva ou alocação que falhou. Se id for o último
// atribuído, o contador volta para ele.
func (s *Store) Rollback(id uint64) {
	if uid, ok := s.byID[id]; ok {
		delete(s.byID, id)
		delete(s.byUID, uid)
	}
	if id+1 == s.nextID && id >= FirstID {
		s.nextID = id
	}
	s.dirty = true
}

// IDForUID retorna o id do uid.
func (s *Store) IDForUID(uid string) (uint64, bool) {
	id, ok := s.byUID[uid]
	return id, ok
}

// UIDForID retorna o uid do id.
func (s *Store) UIDForID(id uint64) (string, bool) {
	uid, ok := s.byID[id]
	return uid, ok
}

// Remove apaga o mapeamento do id. O id não volta a ser usado.
func (s *Store) Remove(id uint64) bool {
	uid, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.byUID, uid)
	s.dirty = true
	return true
}

// IDs retorna os ids mapeados em ordem crescente.
func (s *Store) IDs() []uint64 {
	ids := make([]uint64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Load substitui o conteúdo em memória pelo documento em disco.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("falha ao ler %s: %w", s.path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("falha ao decodificar %s: %w", s.path, err)
	}

	byID := make(map[uint64]string, len(doc.Entries))
	byUID := make(map[string]uint64, len(doc.Entries))
	next := doc.NextID
	for _, e := range doc.Entries {
		if _, ok := byUID[e.UID]; ok {
			return fmt.Errorf("%s: %w: %s", s.path, ErrUIDExists, e.UID)
		}
		if _, ok := byID[e.ID]; ok {
			return fmt.Errorf("%s: %w: %d", s.path, ErrIDExists, e.ID)
		}
		byID[e.ID] = e.UID
		byUID[e.UID] = e.ID
		if e.ID >= next {
			next = e.ID + 1
		}
	}
	if next < FirstID {
		next = FirstID
	}

	s.byID = byID
	s.byUID = byUID
	s.nextID = next
	if doc.CreatedAt > 0 {
		s.createdAt = time.Unix(doc.CreatedAt, 0)
	}
	s.dirty = false
	return nil
}

// Save grava o documento de forma atômica (arquivo temporário + rename).
func (s *Store) Save() error {
	if s.path == "" {
		return errors.New("identity: caminho do arquivo não definido")
	}

	doc := document{
		NextID:    s.nextID,
		CreatedAt: s.createdAt.Unix(),
		Entries:   make([]entry, 0, len(s.byID)),
	}
	for _, id := range s.IDs() {
		doc.Entries = append(doc.Entries, entry{ID: id, UID: s.byID[id]})
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("falha ao criar diretório %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("falha ao gravar %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Delete remove o arquivo do documento. Um arquivo inexistente não é erro.
func (s *Store) Delete() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
