// Package event implementa os ganchos síncronos disparados em torno das
// mutações do armazenamento.
package event

import (
	"fmt"

	"github.com/emersion/go-message/mail"
	"github.com/udokmeci/imapd/storage"
	"go.uber.org/zap"
)

// Trigger identifica o momento em que um evento é disparado.
type Trigger int

const (
	// MailAddPre dispara antes de gravar uma mensagem. Um erro cancela a gravação.
	MailAddPre Trigger = iota + 1
	// MailAdd dispara com a mensagem já interpretada e o id previsto.
	MailAdd
	// MailAddPost dispara depois da gravação, com o id atribuído.
	MailAddPost
)

func (t Trigger) String() string {
	switch t {
	case MailAddPre:
		return "MAIL_ADD_PRE"
	case MailAdd:
		return "MAIL_ADD"
	case MailAddPost:
		return "MAIL_ADD_POST"
	}
	return fmt.Sprintf("Trigger(%d)", int(t))
}

// Payload é o conjunto fixo de argumentos de um disparo. Os campos
// preenchidos dependem do Trigger: MailAddPre leva Folder; MailAdd leva
// Folder, Message, Header e o ID previsto; MailAddPost leva Folder e ID.
type Payload struct {
	Folder  string
	Message *storage.Message
	Header  *mail.Header
	ID      uint64
}

// Handler trata um evento. O valor devolvido fica em Event.ReturnValue.
type Handler interface {
	Handle(ev *Event, p Payload) (any, error)
}

// HandlerFunc adapta uma função comum (ou um method value) a Handler.
type HandlerFunc func(ev *Event, p Payload) (any, error)

// Handle implementa Handler.
func (f HandlerFunc) Handle(ev *Event, p Payload) (any, error) {
	return f(ev, p)
}

// Event associa um Handler a um Trigger e guarda o último valor devolvido.
type Event struct {
	trigger Trigger
	handler Handler
	ret     any
}

// New cria um evento para o trigger.
func New(trigger Trigger, h Handler) *Event {
	return &Event{trigger: trigger, handler: h}
}

// NewFunc é o atalho de New para funções.
func NewFunc(trigger Trigger, fn func(ev *Event, p Payload) (any, error)) *Event {
	return New(trigger, HandlerFunc(fn))
}

// Trigger retorna o trigger do evento.
func (e *Event) Trigger() Trigger { return e.trigger }

// ReturnValue retorna o valor devolvido pela última execução do handler.
func (e *Event) ReturnValue() any { return e.ret }

func (e *Event) execute(p Payload) error {
	ret, err := e.handler.Handle(e, p)
	e.ret = ret
	return err
}

// HandlerError é retornado por Fire quando um handler falha.
type HandlerError struct {
	Trigger Trigger
	Index   int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("evento %s #%d: %v", e.Trigger, e.Index, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Bus guarda os eventos por trigger, na ordem de registro. Um *Bus nulo
// não tem eventos e Fire não faz nada.
type Bus struct {
	events map[Trigger][]*Event
	log    *zap.Logger
}

// NewBus cria um Bus vazio.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		events: make(map[Trigger][]*Event),
		log:    log,
	}
}

// Add registra o evento no fim da lista do seu trigger.
func (b *Bus) Add(ev *Event) {
	if ev == nil || ev.handler == nil {
		return
	}
	b.events[ev.trigger] = append(b.events[ev.trigger], ev)
}

// Len retorna quantos eventos estão registrados para o trigger.
func (b *Bus) Len(t Trigger) int {
	if b == nil {
		return 0
	}
	return len(b.events[t])
}

// Fire executa, em ordem e na goroutine do chamador, todos os eventos do
// trigger. O primeiro erro interrompe o disparo.
func (b *Bus) Fire(t Trigger, p Payload) error {
	if b == nil {
		return nil
	}
	for i, ev := range b.events[t] {
		if err := ev.execute(p); err != nil {
			b.log.Debug("handler de evento falhou",
				zap.Stringer("trigger", t), zap.Int("index", i), zap.Error(err))
			return &HandlerError{Trigger: t, Index: i, Err: err}
		}
	}
	return nil
}
