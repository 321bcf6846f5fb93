// Package sqlstore implementa backends em SQLite e PostgreSQL.
//
// Vários armazenamentos podem dividir o mesmo banco: todas as linhas levam
// o nome do armazenamento na coluna store. A posição de uma mensagem na
// pasta segue a ordem do id da linha.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/udokmeci/imapd/storage"
)

// Store implementa storage.Backend sobre um banco SQL.
type Store struct {
	db      *sqlx.DB
	name    string
	current string

	// release roda após Destroy fechar a conexão; empty indica que o banco
	// não guarda mais linhas de nenhum armazenamento
	release func(empty bool) error
}

type messageRow struct {
	UID     string `db:"uid"`
	Folder  string `db:"folder"`
	RawData []byte `db:"raw_data"`
	Flags   string `db:"flags"`
	Recent  bool   `db:"recent"`
}

func newStore(db *sqlx.DB, name, schema string) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao criar esquema: %w", err)
	}
	if name == "" {
		name = "default"
	}
	return &Store{
		db:      db,
		name:    name,
		current: storage.Inbox,
	}, nil
}

// DB retorna a conexão subjacente.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) resolve(folder string) string {
	if folder == "" {
		return s.current
	}
	return storage.NormalizeFolder(folder)
}

func (s *Store) folderExists(folder string) (bool, error) {
	if folder == storage.Inbox {
		return true, nil
	}
	var n int
	err := s.db.Get(&n, s.db.Rebind("SELECT COUNT(*) FROM folders WHERE store = ? AND name = ?"), s.name, folder)
	if err != nil {
		return false, fmt.Errorf("falha ao consultar pasta: %w", err)
	}
	return n > 0, nil
}

func (s *Store) checkFolder(folder string) (string, error) {
	folder = s.resolve(folder)
	ok, err := s.folderExists(folder)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", storage.ErrFolderNotFound
	}
	return folder, nil
}

// rowID devolve o id da linha na posição seq da pasta.
func (s *Store) rowID(seq int, folder string) (int64, error) {
	folder, err := s.checkFolder(folder)
	if err != nil {
		return 0, err
	}
	if seq < 1 {
		return 0, storage.ErrMessageNotFound
	}
	var id int64
	err = s.db.Get(&id, s.db.Rebind(
		"SELECT id FROM messages WHERE store = ? AND folder = ? ORDER BY id LIMIT 1 OFFSET ?"),
		s.name, folder, seq-1)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrMessageNotFound
	} else if err != nil {
		return 0, fmt.Errorf("falha ao obter mensagem: %w", err)
	}
	return id, nil
}

// Append implementa storage.Backend.
func (s *Store) Append(raw []byte, folder string, flags []string, recent bool) (string, error) {
	folder, err := s.checkFolder(folder)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	uid := id.String()
	_, err = s.db.Exec(s.db.Rebind(
		`INSERT INTO messages (store, uid, folder, raw_data, flags, recent, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		s.name, uid, folder, raw, strings.Join(storage.WithoutRecent(flags), " "), recent, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("falha ao criar mensagem: %w", err)
	}
	return uid, nil
}

// Remove implementa storage.Backend.
func (s *Store) Remove(seq int, folder string) error {
	id, err := s.rowID(seq, folder)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(s.db.Rebind("DELETE FROM messages WHERE id = ?"), id); err != nil {
		return fmt.Errorf("falha ao excluir mensagem: %w", err)
	}
	return nil
}

// Read implementa storage.Backend.
func (s *Store) Read(seq int, folder string) (*storage.Message, error) {
	id, err := s.rowID(seq, folder)
	if err != nil {
		return nil, err
	}
	var row messageRow
	err = s.db.Get(&row, s.db.Rebind(
		"SELECT uid, folder, raw_data, flags, recent FROM messages WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMessageNotFound
	} else if err != nil {
		return nil, fmt.Errorf("falha ao ler mensagem: %w", err)
	}
	return &storage.Message{
		UID:    row.UID,
		Folder: row.Folder,
		Raw:    row.RawData,
		Flags:  storage.WithRecent(strings.Fields(row.Flags), row.Recent),
	}, nil
}

// SelectFolder implementa storage.Backend.
func (s *Store) SelectFolder(folder string) error {
	folder, err := s.checkFolder(storage.NormalizeFolder(folder))
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
	folder, err := s.checkFolder(folder)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.Get(&n, s.db.Rebind("SELECT COUNT(*) FROM messages WHERE store = ? AND folder = ?"), s.name, folder)
	if err != nil {
		return 0, fmt.Errorf("falha ao contar mensagens: %w", err)
	}
	return n, nil
}

// SeqForUID implementa storage.Backend.
func (s *Store) SeqForUID(uid, folder string) (int, error) {
	folder, err := s.checkFolder(folder)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.Get(&id, s.db.Rebind(
		"SELECT id FROM messages WHERE store = ? AND folder = ? AND uid = ?"), s.name, folder, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrMessageNotFound
	} else if err != nil {
		return 0, fmt.Errorf("falha ao obter mensagem: %w", err)
	}
	var seq int
	err = s.db.Get(&seq, s.db.Rebind(
		"SELECT COUNT(*) FROM messages WHERE store = ? AND folder = ? AND id <= ?"), s.name, folder, id)
	if err != nil {
		return 0, fmt.Errorf("falha ao contar mensagens: %w", err)
	}
	return seq, nil
}

// UIDForSeq implementa storage.Backend.
func (s *Store) UIDForSeq(seq int, folder string) (string, error) {
	id, err := s.rowID(seq, folder)
	if err != nil {
		return "", err
	}
	var uid string
	if err := s.db.Get(&uid, s.db.Rebind("SELECT uid FROM messages WHERE id = ?"), id); err != nil {
		return "", fmt.Errorf("falha ao obter mensagem: %w", err)
	}
	return uid, nil
}

// CreateFolder implementa storage.Backend.
func (s *Store) CreateFolder(path string) error {
	segs, err := storage.SplitFolder(path)
	if err != nil {
		return err
	}
	for i := range segs {
		name := strings.Join(segs[:i+1], ".")
		_, err := s.db.Exec(s.db.Rebind(
			"INSERT INTO folders (store, name, created) VALUES (?, ?, ?) ON CONFLICT (store, name) DO NOTHING"),
			s.name, name, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("falha ao criar pasta %s: %w", name, err)
		}
	}
	return nil
}

// ListFolders implementa storage.Backend.
func (s *Store) ListFolders(parent, pattern string) ([]string, error) {
	var all []string
	err := s.db.Select(&all, s.db.Rebind("SELECT name FROM folders WHERE store = ? ORDER BY id"), s.name)
	if err != nil {
		return nil, fmt.Errorf("falha ao listar pastas: %w", err)
	}
	return storage.MatchFolders(all, parent, pattern)
}

// Close implementa storage.Backend.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Destroy implementa storage.Destroyer: apaga as linhas deste
// armazenamento e fecha a conexão.
func (s *Store) Destroy() error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("falha ao iniciar transação: %w", err)
	}
	for _, q := range []string{
		"DELETE FROM messages WHERE store = ?",
		"DELETE FROM folders WHERE store = ?",
	} {
		if _, err := tx.Exec(tx.Rebind(q), s.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("falha ao apagar armazenamento: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("falha ao apagar armazenamento: %w", err)
	}

	var rest int
	if err := s.db.Get(&rest, "SELECT (SELECT COUNT(*) FROM messages) + (SELECT COUNT(*) FROM folders)"); err != nil {
		rest = -1
	}
	if err := s.Close(); err != nil {
		return err
	}
	if s.release != nil {
		return s.release(rest == 0)
	}
	return nil
}

var (
	_ storage.Backend   = (*Store)(nil)
	_ storage.Destroyer = (*Store)(nil)
)
