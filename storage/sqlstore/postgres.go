package sqlstore

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/udokmeci/imapd/storage"
)

func init() {
	storage.Register("postgres", func(cfg storage.Config) (storage.Backend, error) {
		return OpenPostgres(cfg)
	})
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS folders (
	id BIGSERIAL PRIMARY KEY,
	store VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	created BIGINT NOT NULL,
	UNIQUE(store, name)
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	store VARCHAR(255) NOT NULL,
	uid VARCHAR(64) NOT NULL UNIQUE,
	folder VARCHAR(255) NOT NULL,
	raw_data BYTEA,
	flags TEXT NOT NULL DEFAULT '',
	recent BOOLEAN NOT NULL DEFAULT FALSE,
	created BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(store, folder, id);
`

// OpenPostgres conecta ao PostgreSQL em cfg.DSN, por exemplo
// "host=localhost user=mail dbname=mail sslmode=disable".
func OpenPostgres(cfg storage.Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, storage.ErrConfigInvalid
	}

	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir banco de dados PostgreSQL: %w", err)
	}

	s, err := newStore(db, cfg.Name, postgresSchema)
	if err != nil {
		return nil, fmt.Errorf("PostgreSQL: %w", err)
	}
	return s, nil
}
