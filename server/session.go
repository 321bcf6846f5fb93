package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/udokmeci/imapd/mailstore"
	"github.com/udokmeci/imapd/storage"
	"go.uber.org/zap"
)

// Session é o estado de protocolo de uma conexão. Todos os métodos são
// chamados na goroutine do laço do Reactor.
type Session interface {
	ID() int64
	// Greet é chamado logo após o aceite.
	Greet()
	// Handle recebe os bytes lidos da conexão.
	Handle(data []byte)
	// Bye avisa o cliente de que a conexão vai ser encerrada.
	Bye(reason string)
	// Closing informa se a sessão pediu para ser encerrada.
	Closing() bool
	Close() error
}

const maxLineLength = 64 * 1024

// IMAPSession atende um subconjunto mínimo de comandos IMAP sobre os
// armazenamentos do Reactor.
type IMAPSession struct {
	id       int64
	conn     net.Conn
	reactor  *Reactor
	log      *zap.Logger
	buf      []byte
	selected string
	closing  bool
}

// NewIMAPSession é a SessionFactory padrão.
func NewIMAPSession(id int64, conn net.Conn, r *Reactor) Session {
	return &IMAPSession{
		id:      id,
		conn:    conn,
		reactor: r,
		log:     r.Logger().With(zap.Int64("session", id)),
	}
}

func (s *IMAPSession) ID() int64 {
	return s.id
}

func (s *IMAPSession) Closing() bool {
	return s.closing
}

func (s *IMAPSession) Close() error {
	return s.conn.Close()
}

// Greet envia a saudação inicial.
func (s *IMAPSession) Greet() {
	s.write("* OK imapd IMAP4rev1 service ready")
}

// Bye avisa o encerramento; nada é escrito se a sessão já está fechando.
func (s *IMAPSession) Bye(reason string) {
	s.write("* BYE " + reason)
}

func (s *IMAPSession) write(lines ...string) {
	if s.closing {
		return
	}
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.reactor.opts.WriteTimeout))
	if _, err := s.conn.Write(b.Bytes()); err != nil {
		s.log.Debug("falha ao escrever", zap.Error(err))
		s.closing = true
	}
}

// Handle implementa Session.
func (s *IMAPSession) Handle(data []byte) {
	s.buf = append(s.buf, data...)
	for !s.closing {
		i := bytes.Index(s.buf, []byte("\r\n"))
		if i < 0 {
			if len(s.buf) > maxLineLength {
				s.write("* BAD Line too long")
				s.closing = true
			}
			return
		}
		line := s.buf[:i+2]
		s.buf = s.buf[i+2:]
		s.handleLine(line)
	}
}

func (s *IMAPSession) handleLine(line []byte) {
	fields, err := imap.NewReader(bufio.NewReader(bytes.NewReader(line))).ReadLine()
	if err != nil || len(fields) == 0 {
		s.write("* BAD Invalid command")
		return
	}
	tag, err := imap.ParseString(fields[0])
	if err != nil || tag == "" {
		s.write("* BAD Missing tag")
		return
	}
	if len(fields) < 2 {
		s.write(tag + " BAD Missing command")
		return
	}
	name, err := imap.ParseString(fields[1])
	if err != nil {
		s.write(tag + " BAD Invalid command")
		return
	}
	args := make([]string, 0, len(fields)-2)
	for _, f := range fields[2:] {
		a, err := imap.ParseString(f)
		if err != nil {
			s.write(tag + " BAD Invalid arguments")
			return
		}
		args = append(args, a)
	}

	cmd := strings.ToUpper(name)
	s.log.Debug("comando", zap.String("tag", tag), zap.String("command", cmd))

	switch cmd {
	case "CAPABILITY":
		s.write("* CAPABILITY IMAP4rev1", tag+" OK CAPABILITY completed")
	case "NOOP":
		s.write(tag + " OK NOOP completed")
	case "LOGOUT":
		s.write("* BYE Logging out", tag+" OK LOGOUT completed")
		s.closing = true
	case "LIST":
		s.list(tag, args)
	case "CREATE":
		s.create(tag, args)
	case "SELECT":
		s.selectFolder(tag, args)
	case "COPY":
		s.copy(tag, args)
	default:
		s.write(tag + " BAD Unknown command")
	}
}

func (s *IMAPSession) fail(tag, cmd string, err error) {
	if errors.Is(err, mailstore.ErrNotFound) {
		s.write(fmt.Sprintf("%s NO %s failed: not found", tag, cmd))
		return
	}
	s.log.Warn("falha no comando", zap.String("command", cmd), zap.Error(err))
	s.write(fmt.Sprintf("%s NO %s failed", tag, cmd))
}

func quote(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(name) + `"`
}

func (s *IMAPSession) list(tag string, args []string) {
	if len(args) != 2 {
		s.write(tag + " BAD LIST requires reference and mailbox")
		return
	}
	ref, pattern := args[0], args[1]
	if pattern == "" {
		s.write(`* LIST (\Noselect) "." ""`, tag+" OK LIST completed")
		return
	}

	parent := strings.TrimSuffix(ref, ".")
	query := pattern
	if pattern == "%" {
		query = "*"
	}
	names, err := s.reactor.Registry().ListFolders(parent, query)
	if err != nil {
		s.fail(tag, "LIST", err)
		return
	}

	var lines []string
	root := storage.NormalizeFolder(parent) == storage.Inbox
	if root && (pattern == "*" || pattern == "%" || strings.EqualFold(pattern, storage.Inbox)) {
		lines = append(lines, `* LIST () "." INBOX`)
	}
	for _, n := range names {
		if pattern == "%" && strings.Contains(strings.TrimPrefix(n, parent+"."), ".") {
			continue
		}
		lines = append(lines, `* LIST () "." `+quote(n))
	}
	s.write(append(lines, tag+" OK LIST completed")...)
}

func (s *IMAPSession) create(tag string, args []string) {
	if len(args) != 1 {
		s.write(tag + " BAD CREATE requires a mailbox")
		return
	}
	if storage.NormalizeFolder(args[0]) == storage.Inbox {
		s.write(tag + " NO Cannot create INBOX")
		return
	}
	if err := s.reactor.Registry().AddFolder(strings.TrimSuffix(args[0], ".")); err != nil {
		s.fail(tag, "CREATE", err)
		return
	}
	s.write(tag + " OK CREATE completed")
}

func (s *IMAPSession) selectFolder(tag string, args []string) {
	if len(args) != 1 {
		s.write(tag + " BAD SELECT requires a mailbox")
		return
	}
	folder := storage.NormalizeFolder(args[0])
	n, err := s.reactor.Registry().Count(folder)
	if err != nil {
		s.selected = ""
		s.fail(tag, "SELECT", err)
		return
	}
	s.selected = folder
	s.write(
		`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`,
		fmt.Sprintf("* %d EXISTS", n),
		tag+" OK [READ-WRITE] SELECT completed",
	)
}

func (s *IMAPSession) copy(tag string, args []string) {
	if s.selected == "" {
		s.write(tag + " NO No mailbox selected")
		return
	}
	if len(args) != 2 {
		s.write(tag + " BAD COPY requires a sequence set and a mailbox")
		return
	}
	set, err := imap.ParseSeqSet(args[0])
	if err != nil {
		s.write(tag + " BAD Invalid sequence set")
		return
	}
	dest := storage.NormalizeFolder(args[1])

	reg := s.reactor.Registry()
	if _, err := reg.Count(dest); err != nil {
		if errors.Is(err, mailstore.ErrNotFound) {
			s.write(tag + " NO [TRYCREATE] Destination mailbox does not exist")
			return
		}
		s.fail(tag, "COPY", err)
		return
	}
	count, err := reg.Count(s.selected)
	if err != nil {
		s.fail(tag, "COPY", err)
		return
	}

	// a cópia para a própria pasta acrescenta mensagens; o laço usa a contagem inicial
	for seq := 1; seq <= count; seq++ {
		q := uint32(seq)
		if !set.Contains(q) && !(seq == count && set.Contains(0)) {
			continue
		}
		if _, err := reg.CopyBySeq(seq, s.selected, dest); err != nil {
			s.fail(tag, "COPY", err)
			return
		}
	}
	s.write(tag + " OK COPY completed")
}
