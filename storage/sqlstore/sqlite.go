package sqlstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/udokmeci/imapd/storage"
)

func init() {
	storage.Register("sqlite", func(cfg storage.Config) (storage.Backend, error) {
		return OpenSQLite(cfg)
	})
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS folders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store TEXT NOT NULL,
	name TEXT NOT NULL,
	created INTEGER NOT NULL,
	UNIQUE(store, name)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store TEXT NOT NULL,
	uid TEXT NOT NULL UNIQUE,
	folder TEXT NOT NULL,
	raw_data BLOB,
	flags TEXT NOT NULL DEFAULT '',
	recent BOOLEAN NOT NULL DEFAULT 0,
	created INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(store, folder, id);
`

// OpenSQLite abre o armazenamento no arquivo cfg.Path (ou no DSN, se dado).
func OpenSQLite(cfg storage.Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Path == "" {
			return nil, storage.ErrConfigInvalid
		}
		// Garantir que o diretório existe
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("falha ao criar diretório para SQLite: %w", err)
		}
		dsn = cfg.Path
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir banco de dados SQLite: %w", err)
	}
	// uma conexão por arquivo
	db.SetMaxOpenConns(1)

	s, err := newStore(db, cfg.Name, sqliteSchema)
	if err != nil {
		return nil, fmt.Errorf("SQLite: %w", err)
	}
	if cfg.DSN == "" {
		path := cfg.Path
		s.release = func(empty bool) error {
			if !empty {
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		}
	}
	return s, nil
}
