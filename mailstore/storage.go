// Package mailstore liga um backend posicional ao mapa de identidade e ao
// barramento de eventos, oferecendo operações por id, uid e posição.
package mailstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/udokmeci/imapd/event"
	"github.com/udokmeci/imapd/identity"
	"github.com/udokmeci/imapd/storage"
	"go.uber.org/zap"
)

// Kind define o destino do armazenamento no encerramento.
type Kind string

const (
	// KindNormal sobrevive a reinícios; o mapa de identidade é salvo.
	KindNormal Kind = "normal"
	// KindTemp é apagado, junto com o mapa de identidade, no encerramento.
	KindTemp Kind = "temp"
)

// ParseKind converte o texto da configuração. Vazio equivale a KindNormal.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(KindNormal):
		return KindNormal, nil
	case string(KindTemp):
		return KindTemp, nil
	}
	return "", fmt.Errorf("tipo de armazenamento inválido: %q", s)
}

// DefaultIdentityPath retorna o arquivo padrão do mapa de identidade de
// um armazenamento em path.
func DefaultIdentityPath(path string) string {
	return strings.TrimRight(path, "/") + ".msgs.yml"
}

// Options configura um Storage.
type Options struct {
	Name     string
	Kind     Kind
	Identity *identity.Store // nil: sem operações por id
	Bus      *event.Bus
	Logger   *zap.Logger
}

// Storage é uma caixa de correio: um backend, o mapa de identidade opcional
// e o barramento de eventos. Não é seguro para uso concorrente.
type Storage struct {
	name    string
	path    string
	kind    Kind
	backend storage.Backend
	ids     *identity.Store
	bus     *event.Bus
	log     *zap.Logger

	// pasta de cada uid visto nesta execução
	folderOf map[string]string
}

// New cria um Storage sobre backend.
func New(path string, backend storage.Backend, opts Options) *Storage {
	if opts.Kind == "" {
		opts.Kind = KindNormal
	}
	if opts.Name == "" {
		opts.Name = path
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage{
		name:     opts.Name,
		path:     path,
		kind:     opts.Kind,
		backend:  backend,
		ids:      opts.Identity,
		bus:      opts.Bus,
		log:      log.With(zap.String("storage", opts.Name)),
		folderOf: make(map[string]string),
	}
}

// Name retorna o nome do armazenamento.
func (s *Storage) Name() string {
	return s.name
}

func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) Kind() Kind {
	return s.kind
}

func (s *Storage) Backend() storage.Backend {
	return s.backend
}

// Identity retorna o mapa de identidade, ou nil.
func (s *Storage) Identity() *identity.Store {
	return s.ids
}

// SetBus troca o barramento de eventos.
func (s *Storage) SetBus(bus *event.Bus) { s.bus = bus }

// inFolder seleciona folder no backend durante fn e restaura a seleção
// anterior. Se a restauração falhar, o backend volta ao INBOX.
func (s *Storage) inFolder(folder string, fn func() error) error {
	prev := s.backend.CurrentFolder()
	if err := s.backend.SelectFolder(folder); err != nil {
		return err
	}
	defer func() {
		if err := s.backend.SelectFolder(prev); err != nil {
			s.log.Warn("falha ao restaurar pasta selecionada",
				zap.String("folder", prev), zap.Error(err))
			_ = s.backend.SelectFolder(storage.Inbox)
		}
	}()
	return fn()
}

// Shutdown encerra o armazenamento conforme o Kind: temporários são
// apagados com o mapa de identidade; normais têm o mapa salvo.
func (s *Storage) Shutdown() error {
	var errs []error
	switch s.kind {
	case KindTemp:
		if d, ok := s.backend.(storage.Destroyer); ok {
			errs = append(errs, d.Destroy())
		} else {
			errs = append(errs, s.backend.Close())
			if s.path != "" {
				errs = append(errs, os.RemoveAll(s.path))
			}
		}
		if s.ids != nil {
			errs = append(errs, s.ids.Delete())
		}
	default:
		if s.ids != nil && s.ids.Path() != "" {
			if err := s.ids.Save(); err != nil {
				errs = append(errs, fmt.Errorf("falha ao salvar mapa de identidade: %w", err))
			}
		}
		errs = append(errs, s.backend.Close())
	}
	return errors.Join(errs...)
}
