package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/ycommand/protocol"
	"github.com/luma/ycommand/storage"
)

const (
	WriteQueueSize = 127

	storeTimeout = 3 * time.Second
)

var (
	ErrUnauthorized      = errors.New("Session could not be authenticated")
	ErrNoSession         = errors.New("Command requires a session, SESSION CREATE was not sent")
	ErrUnexpectedCommand = errors.New("Command is not expected from a client")
	ErrConnClosed        = errors.New("Connection is closed")
	ErrNotStarted        = errors.New("TCP server has not been started")
)

// TCP is the device end of the protocol. It authenticates sessions and keeps
// their subscriptions in a storage.Store.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr         string
	reuseport    bool
	numListeners int

	mu        sync.Mutex
	listeners []*TCPListener

	store   storage.Store
	keyring Keyring

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if !options.Reuseport {
		// Without SO_REUSEPORT a second listener cannot bind
		numListeners = 1
	} else if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	keyring := options.Keyring
	if keyring == nil {
		keyring = StaticKeyring{}
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		store:        options.Store,
		keyring:      keyring,
		log:          log,
	}
}

// Start binds every listener before returning, then accepts connections in
// the background until ctx is done or Close is called.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		if err := t.startListener(ctx, i); err != nil {
			return multierr.Append(err, t.Close())
		}
	}

	return nil
}

func (t *TCP) Store() storage.Store {
	return t.store
}

// Addr returns the address of the first listener. When listening on port 0
// each listener has its own port.
func (t *TCP) Addr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.listeners) == 0 {
		return nil, ErrNotStarted
	}

	return t.listeners[0].Addr(), nil
}

func (t *TCP) startListener(ctx context.Context, n int) error {
	ln, err := t.listen()
	if err != nil {
		return fmt.Errorf("Failed to listen on %s: %w", t.addr, err)
	}

	listener := NewTCPListener(
		ctx,
		ln,
		t.store,
		t.keyring,
		t.log.Named("listener").With(zap.Int("listener", n)),
	)

	t.mu.Lock()
	t.listeners = append(t.listeners, listener)
	t.mu.Unlock()

	t.stopWaiter.Add(1)

	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			// TODO(rolly) a failed listener is not restarted, the server keeps
			//             running with one listener fewer
			t.log.Error("Listener failed", zap.Error(err))
		}
	}()

	return nil
}

func (t *TCP) listen() (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", t.addr)
	}

	return net.Listen("tcp", t.addr)
}

// Close stops all listeners, closes every connection and waits for their
// loops to exit.
func (t *TCP) Close() (err error) {
	t.log.Info("Stopping TCP server")

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	for _, listener := range listeners {
		err = multierr.Append(err, listener.Close())
	}

	t.stopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	store    storage.Store
	keyring  Keyring

	mu          sync.Mutex
	closed      bool
	closeErr    error
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup

	log *zap.Logger
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	store storage.Store,
	keyring Keyring,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		store:       store,
		keyring:     keyring,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and closes every active connection. It is safe to
// call more than once.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return t.closeErr
	}

	t.closed = true
	t.closeErr = t.listener.Close()

	for conn := range t.activeConns {
		conn.Close()
	}

	return t.closeErr
}

func (t *TCPListener) Serve() error {
	updates, stopUpdates := t.store.ListenToUpdates()
	defer stopUpdates()

	// Runs until stopUpdates closes the channel
	go func() {
		for update := range updates {
			if err := t.WriteUpdate(update); err != nil {
				t.log.Warn("Failed to deliver update",
					zap.String("session", update.Session),
					zap.String("service", update.Service),
					zap.Error(err))
			}
		}
	}()

	go func() {
		<-t.ctx.Done()
		t.Close()
	}()

	defer t.connWaiter.Wait()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(
			t.ctx,
			conn,
			t.store,
			t.keyring,
			t.log.Named("conn").With(zap.String("remote", conn.RemoteAddr().String())),
		)

		if !t.addConn(tcpConn) {
			tcpConn.Close()
			continue
		}

		t.connWaiter.Add(1)

		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

// WriteUpdate sends the acknowledgement for update to every connection bound
// to the update's session.
func (t *TCPListener) WriteUpdate(update *storage.Update) (err error) {
	ack, err := acknowledgement(update)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		if session, ok := conn.Session(); !ok || session != update.Session {
			continue
		}

		if werr := protocol.WriteCommand(conn, ack); werr != nil {
			err = multierr.Append(err, werr)
		}
	}

	return err
}

func acknowledgement(update *storage.Update) (protocol.Command, error) {
	if update.Subscribed {
		ack, err := protocol.NewSubscribedCommand(update.Service)
		if err != nil {
			return nil, err
		}
		return ack, nil
	}

	ack, err := protocol.NewUnsubscribedCommand(update.Service)
	if err != nil {
		return nil, err
	}
	return ack, nil
}

func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once

	conn    net.Conn
	reader  *bufio.Reader
	store   storage.Store
	keyring Keyring

	mu      sync.RWMutex
	session string

	writeQueue chan []byte

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	store storage.Store,
	keyring Keyring,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		store:      store,
		keyring:    keyring,
		writeQueue: make(chan []byte, WriteQueueSize),
		log:        log,
	}
}

// Session returns the session key once SESSION CREATE has been verified,
// see SessionKey.
func (t *TCPConn) Session() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.session, t.session != ""
}

func (t *TCPConn) Close() error {
	var err error

	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
	})

	return err
}

// Start runs the read and write loops and blocks until both have exited.
func (t *TCPConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()
	t.Close()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	defer func() {
		// Stop the write loop once it has flushed what is queued
		t.cancel()
		log.Debug("Read loop exited")
	}()

	for {
		cmd, err := protocol.ReadCommand(t.reader)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}

			if isRecoverable(err) {
				log.Warn("Failed to read client command", zap.Error(err))
				continue
			}

			log.Warn("Failed to read from connection", zap.Error(err))
			return
		}

		if err := t.dispatch(cmd); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				log.Warn("Closing unauthenticated connection", zap.Error(err))
				return
			}

			log.Warn("Failed to dispatch command",
				zap.String("verb", string(cmd.Verb())),
				zap.Error(err))
		}
	}
}

func isRecoverable(err error) bool {
	return errors.Is(err, protocol.ErrEmptyCommand) ||
		errors.Is(err, protocol.ErrMalformedCommand) ||
		errors.Is(err, protocol.ErrUnknownCommand) ||
		errors.Is(err, protocol.ErrLineTooLong)
}

func (t *TCPConn) dispatch(cmd protocol.Command) error {
	switch c := cmd.(type) {
	case *protocol.CreateSessionRequest:
		return t.createSession(c)

	case *protocol.SubscribeCommand:
		return t.updateSubscription(c.Service(), true)

	case *protocol.UnsubscribeCommand:
		return t.updateSubscription(c.Service(), false)

	case *protocol.CreateSessionCommand, *protocol.SubscribedCommand, *protocol.UnsubscribedCommand:
		return fmt.Errorf("%w: %s", ErrUnexpectedCommand, c.Verb())

	default:
		return fmt.Errorf("%w: %T", ErrUnexpectedCommand, c)
	}
}

func (t *TCPConn) createSession(req *protocol.CreateSessionRequest) error {
	secret, ok := t.keyring.Secret(req.ConsumerKey())
	if !ok || !req.Verify(secret) {
		return fmt.Errorf("%w: consumer key '%s'", ErrUnauthorized, req.ConsumerKey())
	}

	t.mu.Lock()
	t.session = SessionKey(req.ConsumerKey(), req.Name())
	t.mu.Unlock()

	t.log.Info("Session created",
		zap.String("session", req.Name()),
		zap.String("consumerKey", req.ConsumerKey()),
		zap.String("appID", req.AppID()))

	return t.replaySubscriptions()
}

// replaySubscriptions sends a SUBSCRIBED line for every service the session
// already holds, so a connection joining a session learns its state.
func (t *TCPConn) replaySubscriptions() error {
	session, _ := t.Session()

	ctx, cancel := context.WithTimeout(t.ctx, storeTimeout)
	defer cancel()

	services, err := t.store.Subscriptions(ctx, session)
	if err != nil {
		return fmt.Errorf("Failed to list subscriptions %w", err)
	}

	acks := make([]protocol.Command, 0, len(services))
	for _, service := range services {
		ack, err := protocol.NewSubscribedCommand(service)
		if err != nil {
			return err
		}
		acks = append(acks, ack)
	}

	return protocol.WriteCommands(t, acks...)
}

func (t *TCPConn) updateSubscription(service string, subscribed bool) error {
	session, ok := t.Session()
	if !ok {
		return ErrNoSession
	}

	ctx, cancel := context.WithTimeout(t.ctx, storeTimeout)
	defer cancel()

	if subscribed {
		if err := t.store.Subscribe(ctx, session, service); err != nil {
			return fmt.Errorf("Failed to subscribe %w", err)
		}

		return nil
	}

	if err := t.store.Unsubscribe(ctx, session, service); err != nil {
		return fmt.Errorf("Failed to unsubscribe %w", err)
	}

	return nil
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-t.ctx.Done():
			t.flush()
			log.Debug("Write loop exited")
			return

		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Warn("Failed to write to connection", zap.Error(err))
				t.cancel()
				return
			}
		}
	}
}

// flush writes whatever is left in the write queue without blocking.
func (t *TCPConn) flush() {
	for {
		select {
		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				return
			}

		default:
			return
		}
	}
}

// Write queues data for the write loop. Each call is written atomically.
func (t *TCPConn) Write(data []byte) (int, error) {
	if !t.isRunning() {
		return 0, ErrConnClosed
	}

	select {
	case t.writeQueue <- data:
		return len(data), nil

	case <-t.ctx.Done():
		return 0, ErrConnClosed
	}
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		return false

	default:
		return true
	}
}
