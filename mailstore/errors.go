package mailstore

import (
	"errors"
	"fmt"

	"github.com/udokmeci/imapd/storage"
)

// ErrNotFound é a raiz dos erros de id, uid, posição ou pasta desconhecidos.
// Os erros de "não encontrado" dos backends também casam com ele via errors.Is.
var ErrNotFound = storage.ErrNotFound

// ErrNoIdentity é retornado por operações por id em armazenamentos sem
// mapa de identidade.
var ErrNoIdentity = errors.New("armazenamento sem mapa de identidade")

// BackendError indica uma falha física no backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// backendErr envolve falhas físicas em BackendError. Erros de "não
// encontrado" passam sem alteração.
func backendErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

func idNotFound(id uint64) error {
	return fmt.Errorf("id %d: %w", id, ErrNotFound)
}
