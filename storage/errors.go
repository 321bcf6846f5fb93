package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound é a raiz de todos os erros de "não encontrado" dos backends.
var ErrNotFound = errors.New("não encontrado")

var (
	// ErrFolderNotFound é retornado quando a pasta não existe
	ErrFolderNotFound = fmt.Errorf("pasta: %w", ErrNotFound)

	// ErrMessageNotFound é retornado quando não há mensagem na posição ou uid
	ErrMessageNotFound = fmt.Errorf("mensagem: %w", ErrNotFound)
)

var (
	// ErrInvalidFolder indica um nome de pasta inválido
	ErrInvalidFolder = errors.New("nome de pasta inválido")

	// ErrConfigInvalid indica configuração de armazenamento inválida
	ErrConfigInvalid = errors.New("configuração de armazenamento inválida")

	// ErrUnsupportedType indica que não há driver para o tipo pedido
	ErrUnsupportedType = errors.New("tipo de armazenamento não suportado")
)

// UnsupportedTypeError é retornado por Open quando o tipo não foi registrado.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("tipo de armazenamento não suportado: %q", e.Type)
}

func (e *UnsupportedTypeError) Unwrap() error {
	return ErrUnsupportedType
}
