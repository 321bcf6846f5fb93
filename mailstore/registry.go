package mailstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/udokmeci/imapd/event"
	"github.com/udokmeci/imapd/identity"
	"github.com/udokmeci/imapd/storage"
	"github.com/udokmeci/imapd/storage/dirstore"
	"go.uber.org/zap"
)

// ErrNoStorage é retornado quando não há armazenamento padrão disponível.
var ErrNoStorage = errors.New("nenhum armazenamento registrado")

// StorageConfig descreve um armazenamento a abrir com Registry.Open.
type StorageConfig struct {
	Name         string
	Type         string // driver registrado em storage (directory, maildir, sqlite, postgres)
	Path         string
	DSN          string
	Kind         Kind
	IdentityPath string // vazio: DefaultIdentityPath(Path)
	NoIdentity   bool
}

// Registry é a lista ordenada de armazenamentos do servidor. O primeiro é
// o destino padrão das operações.
type Registry struct {
	storages []*Storage
	bus      *event.Bus
	log      *zap.Logger
}

// NewRegistry cria um registro vazio. Todos os armazenamentos adicionados
// passam a usar bus.
func NewRegistry(bus *event.Bus, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = event.NewBus(log)
	}
	return &Registry{bus: bus, log: log}
}

// Bus retorna o barramento de eventos compartilhado.
func (r *Registry) Bus() *event.Bus { return r.bus }

// AddEvent registra um evento no barramento compartilhado.
func (r *Registry) AddEvent(ev *event.Event) {
	r.bus.Add(ev)
}

// Add registra um Storage já construído.
func (r *Registry) Add(s *Storage) {
	s.SetBus(r.bus)
	r.storages = append(r.storages, s)
	r.log.Info("armazenamento registrado",
		zap.String("storage", s.Name()), zap.String("path", s.Path()), zap.String("kind", string(s.Kind())))
}

// Open abre o backend de cfg, carrega o mapa de identidade e registra o
// armazenamento. Um tipo sem driver retorna *storage.UnsupportedTypeError.
func (r *Registry) Open(cfg StorageConfig) (*Storage, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindNormal
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Path
	}

	backend, err := storage.Open(storage.Config{
		Name: name,
		Type: cfg.Type,
		Path: cfg.Path,
		DSN:  cfg.DSN,
	})
	if err != nil {
		return nil, err
	}

	var ids *identity.Store
	if !cfg.NoIdentity {
		idPath := cfg.IdentityPath
		if idPath == "" && cfg.Path != "" {
			idPath = DefaultIdentityPath(cfg.Path)
		}
		ids, err = identity.Open(idPath)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("falha ao carregar mapa de identidade: %w", err)
		}
	}

	s := New(cfg.Path, backend, Options{
		Name:     name,
		Kind:     cfg.Kind,
		Identity: ids,
		Logger:   r.log,
	})
	r.Add(s)
	return s, nil
}

// Storages retorna os armazenamentos na ordem de registro.
func (r *Registry) Storages() []*Storage {
	return r.storages
}

// Default retorna o armazenamento padrão. Sem nenhum registrado, cria um
// armazenamento temporário em diretório.
func (r *Registry) Default() (*Storage, error) {
	if len(r.storages) > 0 {
		return r.storages[0], nil
	}

	path, err := os.MkdirTemp("", "tmp_mailbox_")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStorage, err)
	}
	backend, err := dirstore.New(path)
	if err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("%w: %v", ErrNoStorage, err)
	}
	s := New(path, backend, Options{
		Name:     "tmp",
		Kind:     KindTemp,
		Identity: identity.New(DefaultIdentityPath(path)),
		Logger:   r.log,
	})
	r.Add(s)
	return s, nil
}

// AddMessage grava no armazenamento padrão.
func (r *Registry) AddMessage(raw []byte, folder string, flags []string, recent bool) (uint64, error) {
	s, err := r.Default()
	if err != nil {
		return 0, err
	}
	return s.AddMessage(raw, folder, flags, recent)
}

// RemoveByID remove do armazenamento padrão.
func (r *Registry) RemoveByID(id uint64) error {
	s, err := r.Default()
	if err != nil {
		return err
	}
	return s.RemoveByID(id)
}

// RemoveBySeq remove do armazenamento padrão.
func (r *Registry) RemoveBySeq(seq int, folder string) error {
	s, err := r.Default()
	if err != nil {
		return err
	}
	return s.RemoveBySeq(seq, folder)
}

// CopyByID copia dentro do armazenamento padrão.
func (r *Registry) CopyByID(id uint64, dest string) (uint64, error) {
	s, err := r.Default()
	if err != nil {
		return 0, err
	}
	return s.CopyByID(id, dest)
}

// CopyBySeq copia dentro do armazenamento padrão.
func (r *Registry) CopyBySeq(seq int, src, dest string) (uint64, error) {
	s, err := r.Default()
	if err != nil {
		return 0, err
	}
	return s.CopyBySeq(seq, src, dest)
}

// SeqByID consulta o armazenamento padrão.
func (r *Registry) SeqByID(id uint64) (int, error) {
	s, err := r.Default()
	if err != nil {
		return 0, err
	}
	return s.SeqByID(id)
}

// IDBySeq consulta o armazenamento padrão.
func (r *Registry) IDBySeq(seq int, folder string) (uint64, error) {
	s, err := r.Default()
	if err != nil {
		return 0, err
	}
	return s.IDBySeq(seq, folder)
}

// MessageByID lê do armazenamento padrão.
func (r *Registry) MessageByID(id uint64) (*storage.Message, error) {
	s, err := r.Default()
	if err != nil {
		return nil, err
	}
	return s.MessageByID(id)
}

// ListFolders lista as pastas do armazenamento padrão.
func (r *Registry) ListFolders(parent, pattern string) ([]string, error) {
	s, err := r.Default()
	if err != nil {
		return nil, err
	}
	return s.ListFolders(parent, pattern)
}

// Count conta as mensagens de folder no armazenamento padrão.
func (r *Registry) Count(folder string) (int, error) {
	s, err := r.Default()
	if err != nil {
		return 0, err
	}
	return s.Count(folder)
}

// AddFolder cria a pasta em todos os armazenamentos.
func (r *Registry) AddFolder(path string) error {
	if _, err := r.Default(); err != nil {
		return err
	}
	var errs []error
	for _, s := range r.storages {
		if err := s.AddFolder(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown encerra todos os armazenamentos. A falha de um é registrada e
// não interrompe os demais.
func (r *Registry) Shutdown() {
	for _, s := range r.storages {
		if err := s.Shutdown(); err != nil {
			metricShutdownErrors.Inc()
			r.log.Error("falha ao encerrar armazenamento",
				zap.String("storage", s.Name()), zap.String("path", s.Path()), zap.Error(err))
			continue
		}
		r.log.Info("armazenamento encerrado",
			zap.String("storage", s.Name()), zap.String("kind", string(s.Kind())))
	}
}
