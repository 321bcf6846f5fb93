package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/udokmeci/imapd/config"
	"github.com/udokmeci/imapd/storage"
	"go.uber.org/zap"
)

// SMTPBackend implementa a interface smtp.Backend, entregando as mensagens
// no INBOX do armazenamento padrão pela goroutine do Reactor.
type SMTPBackend struct {
	reactor *Reactor
	timeout time.Duration
	log     *zap.Logger
}

// NewSMTPBackend cria um novo backend SMTP
func NewSMTPBackend(r *Reactor, timeout time.Duration) *SMTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPBackend{
		reactor: r,
		timeout: timeout,
		log:     r.Logger().Named("smtp"),
	}
}

// NewSession implementa smtp.Backend. Não há autenticação.
func (b *SMTPBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &SMTPSession{backend: b, remote: c.Conn().RemoteAddr().String()}, nil
}

// SMTPSession implementa a interface smtp.Session
type SMTPSession struct {
	backend *SMTPBackend
	remote  string
	from    string
	to      []string
}

// Mail inicia uma nova transação de email
func (s *SMTPSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt adiciona um destinatário
func (s *SMTPSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

// Data grava a mensagem recebida
func (s *SMTPSession) Data(r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("falha ao ler email: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.timeout)
	defer cancel()

	var id uint64
	err = s.backend.reactor.Do(ctx, func() error {
		var err error
		id, err = s.backend.reactor.Registry().AddMessage(body, storage.Inbox, nil, true)
		return err
	})
	if err != nil {
		metricSMTPDeliveries.WithLabelValues("error").Inc()
		s.backend.log.Warn("falha ao entregar mensagem",
			zap.String("from", s.from), zap.Strings("to", s.to), zap.Error(err))
		if errors.Is(err, ErrClosed) {
			return &smtp.SMTPError{Code: 421, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Server shutting down"}
		}
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Message not stored"}
	}

	metricSMTPDeliveries.WithLabelValues("ok").Inc()
	s.backend.log.Info("mensagem recebida",
		zap.String("remote", s.remote), zap.String("from", s.from),
		zap.Int("recipients", len(s.to)), zap.Uint64("id", id))
	return nil
}

// Reset limpa o estado da sessão
func (s *SMTPSession) Reset() {
	s.from = ""
	s.to = nil
}

// Logout finaliza a sessão
func (s *SMTPSession) Logout() error {
	return nil
}

// NewSMTPServer configura o servidor SMTP de entrada.
func NewSMTPServer(cfg config.SMTPConfig, r *Reactor) *smtp.Server {
	s := smtp.NewServer(NewSMTPBackend(r, cfg.Timeout))

	s.Addr = fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	s.Domain = cfg.Domain
	s.ReadTimeout = cfg.Timeout
	s.WriteTimeout = cfg.Timeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	return s
}
