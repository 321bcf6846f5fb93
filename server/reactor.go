package server

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/udokmeci/imapd/mailstore"
	"go.uber.org/zap"
)

// SessionFactory cria a sessão de uma conexão aceita.
type SessionFactory func(id int64, conn net.Conn, r *Reactor) Session

// Options configura um Reactor.
type Options struct {
	// PollTimeout limita a espera por atividade em cada iteração.
	PollTimeout time.Duration
	// LoopInterval é a pausa entre iterações de MainLoop.
	LoopInterval time.Duration
	// WriteTimeout limita cada escrita de uma sessão.
	WriteTimeout time.Duration
	// NewSession cria as sessões; nil usa NewIMAPSession.
	NewSession SessionFactory
	Logger     *zap.Logger
}

type signalKind int

const (
	sigAccept signalKind = iota
	sigData
	sigClosed
)

// signal é produzido pelas goroutines de aceite e leitura. Todo o
// tratamento acontece na goroutine do laço.
type signal struct {
	kind signalKind
	id   int64
	conn net.Conn
	data []byte
	err  error
}

type client struct {
	session Session
	conn    net.Conn
}

// Reactor aceita conexões e despacha os dados recebidos para as sessões,
// uma de cada vez, na goroutine que chama RunIteration ou MainLoop.
type Reactor struct {
	opts     Options
	log      *zap.Logger
	registry *mailstore.Registry

	listener *net.TCPListener
	signals  chan signal
	tasks    chan func()
	done     chan struct{}

	clients  map[int64]*client
	nextID   int64
	sessions atomic.Int64

	shutdown sync.Once
}

// New cria um Reactor que serve os armazenamentos de registry.
func New(registry *mailstore.Registry, opts Options) *Reactor {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = 10 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.NewSession == nil {
		opts.NewSession = NewIMAPSession
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if registry == nil {
		registry = mailstore.NewRegistry(nil, opts.Logger)
	}
	return &Reactor{
		opts:     opts,
		log:      opts.Logger,
		registry: registry,
		signals:  make(chan signal, 64),
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
		clients:  make(map[int64]*client),
	}
}

// Registry retorna os armazenamentos servidos.
func (r *Reactor) Registry() *mailstore.Registry { return r.registry }

// Logger retorna o logger do reator.
func (r *Reactor) Logger() *zap.Logger { return r.log }

// Sessions retorna o número de sessões abertas.
func (r *Reactor) Sessions() int { return int(r.sessions.Load()) }

// Addr retorna o endereço em escuta, ou nil antes de Init.
func (r *Reactor) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Init resolve o endereço, associa e coloca o socket em escuta.
func (r *Reactor) Init(address string, port int) error {
	if r.listener != nil {
		return errors.New("reator já iniciado")
	}
	hostport := net.JoinHostPort(address, strconv.Itoa(port))

	addr, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return &BindError{Addr: hostport, Err: err}
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		if isBindError(err) {
			return &BindError{Addr: hostport, Err: err}
		}
		return &ListenError{Addr: hostport, Err: err}
	}
	r.listener = ln

	go r.acceptLoop()

	r.log.Info("servidor IMAP escutando", zap.String("addr", ln.Addr().String()))
	return nil
}

func isBindError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EADDRNOTAVAIL)
}

// post entrega um sinal ao laço. Retorna false se o reator foi encerrado.
func (r *Reactor) post(s signal) bool {
	select {
	case r.signals <- s:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reactor) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("erro ao aceitar conexão", zap.Error(err))
			time.Sleep(r.opts.LoopInterval)
			continue
		}
		if !r.post(signal{kind: sigAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (r *Reactor) readLoop(id int64, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !r.post(signal{kind: sigData, id: id, data: data}) {
				return
			}
		}
		if err != nil {
			r.post(signal{kind: sigClosed, id: id, err: err})
			return
		}
	}
}

// RunIteration espera até PollTimeout pela primeira atividade, recolhe
// toda a atividade pendente e a despacha. Depois executa as tarefas
// agendadas com Submit ou Do.
func (r *Reactor) RunIteration() {
	timer := time.NewTimer(r.opts.PollTimeout)
	defer timer.Stop()

	var batch []signal
	select {
	case s := <-r.signals:
		batch = append(batch, s)
	case fn := <-r.tasks:
		fn()
	case <-timer.C:
	case <-r.done:
		return
	}

drain:
	for {
		select {
		case s := <-r.signals:
			batch = append(batch, s)
		default:
			break drain
		}
	}

	for _, s := range batch {
		r.dispatch(s)
	}
	r.runTasks()
}

func (r *Reactor) runTasks() {
	for {
		select {
		case fn := <-r.tasks:
			fn()
		default:
			return
		}
	}
}

func (r *Reactor) dispatch(s signal) {
	switch s.kind {
	case sigAccept:
		r.accept(s.conn)

	case sigData:
		c, ok := r.clients[s.id]
		if !ok {
			return
		}
		if !r.guard(s.id, func() { c.session.Handle(s.data) }) {
			return
		}
		if c.session.Closing() {
			r.remove(s.id, "encerrada pela sessão")
		}

	case sigClosed:
		if _, ok := r.clients[s.id]; ok {
			r.log.Debug("conexão fechada pelo cliente", zap.Int64("session", s.id), zap.Error(s.err))
			r.remove(s.id, "conexão fechada")
		}
	}
}

// guard executa fn isolando pânicos da sessão id. Retorna false se a
// sessão foi removida.
func (r *Reactor) guard(id int64, fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			metricSessionPanics.Inc()
			r.log.Error("pânico na sessão", zap.Int64("session", id), zap.Any("panic", p))
			r.remove(id, "pânico")
			ok = false
		}
	}()
	fn()
	return true
}

func (r *Reactor) accept(conn net.Conn) {
	r.nextID++
	id := r.nextID
	c := &client{
		session: r.opts.NewSession(id, conn, r),
		conn:    conn,
	}
	r.clients[id] = c
	r.sessions.Add(1)
	metricConnections.WithLabelValues("accepted").Inc()
	metricSessions.Inc()
	r.log.Debug("nova conexão", zap.Int64("session", id), zap.String("remote", conn.RemoteAddr().String()))

	if !r.guard(id, c.session.Greet) {
		return
	}
	if c.session.Closing() {
		r.remove(id, "encerrada pela sessão")
		return
	}
	go r.readLoop(id, conn)
}

func (r *Reactor) remove(id int64, reason string) {
	c, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	r.sessions.Add(-1)
	metricConnections.WithLabelValues("closed").Inc()
	metricSessions.Dec()

	if err := c.session.Close(); err != nil {
		r.log.Debug("erro ao fechar sessão", zap.Int64("session", id), zap.Error(err))
	}
	// a leitura só termina com a conexão fechada
	_ = c.conn.Close()
	r.log.Debug("sessão removida", zap.Int64("session", id), zap.String("reason", reason))
}

// Submit agenda fn para a goroutine do laço. Não deve ser chamado da
// própria goroutine do laço.
func (r *Reactor) Submit(fn func()) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.tasks <- fn:
		return nil
	case <-r.done:
		return ErrClosed
	}
}

// Do executa fn na goroutine do laço e espera o resultado.
func (r *Reactor) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	// state: 0 na fila, 1 em execução, 2 abandonada por quem chamou
	var state atomic.Int32
	errc := make(chan error, 1)
	task := func() {
		if !state.CompareAndSwap(0, 1) {
			return
		}
		errc <- fn()
	}

	select {
	case r.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}

	var abort error
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		abort = ctx.Err()
	case <-r.done:
		abort = ErrClosed
	}
	if state.CompareAndSwap(0, 2) {
		return abort
	}
	// fn já começou e vai terminar na goroutine do laço
	return <-errc
}

// MainLoop executa iterações até exit ser marcado e então encerra o reator.
func (r *Reactor) MainLoop(exit *atomic.Bool) {
	for !exit.Load() {
		r.RunIteration()
		time.Sleep(r.opts.LoopInterval)
	}
	r.Shutdown()
}

// Shutdown avisa e fecha todas as sessões, fecha o socket e encerra os
// armazenamentos. Chamadas repetidas não fazem nada.
func (r *Reactor) Shutdown() {
	r.shutdown.Do(func() {
		close(r.done)
		if r.listener != nil {
			if err := r.listener.Close(); err != nil {
				r.log.Debug("erro ao fechar socket", zap.Error(err))
			}
		}

		ids := make([]int64, 0, len(r.clients))
		for id := range r.clients {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			c := r.clients[id]
			r.guard(id, func() { c.session.Bye("Server shutdown") })
			r.remove(id, "servidor encerrando")
		}

		r.registry.Shutdown()
		r.log.Info("servidor encerrado", zap.Int("sessions", len(ids)))
	})
}
