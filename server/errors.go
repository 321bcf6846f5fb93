package server

import (
	"errors"
	"fmt"
)

// ErrClosed é retornado por Do e Submit depois do encerramento do reator.
var ErrClosed = errors.New("reator encerrado")

// BindError indica que o endereço não pôde ser resolvido ou associado.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("falha ao associar %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ListenError indica uma falha ao colocar o socket em escuta.
type ListenError struct {
	Addr string
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("falha ao escutar em %s: %v", e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}
