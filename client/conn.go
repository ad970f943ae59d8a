package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/ycommand/protocol"
)

const EventBufferSize = 255

var (
	ErrDisconnected = errors.New("Connection to the device was lost")
	ErrNotConnected = errors.New("Connect has not been called")
)

type ackKey struct {
	verb    protocol.Verb
	service string
}

// Conn is a client connection to a device.
type Conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	events chan protocol.Command

	ackMu sync.Mutex
	acks  map[ackKey]chan protocol.Command

	readWaiter sync.WaitGroup

	log *zap.Logger
}

func New(log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		log:    log,
		events: make(chan protocol.Command, EventBufferSize),
		acks:   make(map[ackKey]chan protocol.Command),
	}
}

// Connect dials the device and starts reading from it. The connection lives
// until ctx is done, Disconnect is called or the device hangs up.
func (c *Conn) Connect(ctx context.Context, addr string) error {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.readWaiter.Add(1)
	go func() {
		defer c.readWaiter.Done()
		c.readLoop()
	}()

	go func() {
		<-c.ctx.Done()
		c.conn.Close()
	}()

	return nil
}

func (c *Conn) Disconnect() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.cancel()
	err := c.conn.Close()
	c.readWaiter.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// Events carries device commands that were not an acknowledgement of a
// request made through this Conn. It is closed when the connection ends.
func (c *Conn) Events() <-chan protocol.Command {
	return c.events
}

// CreateSession sends SESSION CREATE. The device does not acknowledge it, a
// rejected session shows up as the device closing the connection.
func (c *Conn) CreateSession(cmd *protocol.CreateSessionCommand) error {
	return c.write(cmd)
}

// Subscribe subscribes to service and waits for the device to acknowledge.
func (c *Conn) Subscribe(ctx context.Context, service string) error {
	cmd, err := protocol.NewSubscribeCommand(service)
	if err != nil {
		return err
	}

	return c.request(ctx, cmd, ackKey{verb: protocol.VerbSubscribed, service: service})
}

// Unsubscribe unsubscribes from service and waits for the device to
// acknowledge.
func (c *Conn) Unsubscribe(ctx context.Context, service string) error {
	cmd, err := protocol.NewUnsubscribeCommand(service)
	if err != nil {
		return err
	}

	return c.request(ctx, cmd, ackKey{verb: protocol.VerbUnsubscribed, service: service})
}

func (c *Conn) request(ctx context.Context, cmd protocol.Command, key ackKey) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	ackChan := c.createAckChan(key)
	defer c.destroyAckChan(key, ackChan)

	if err := c.write(cmd); err != nil {
		return err
	}

	select {
	case <-ackChan:
		return nil

	case <-c.ctx.Done():
		return ErrDisconnected

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) write(cmd protocol.Command) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	if c.ctx.Err() != nil {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return protocol.WriteCommand(c.conn, cmd)
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	defer func() {
		c.cancel()
		close(c.events)
	}()

	for {
		cmd, err := protocol.ReadCommand(c.reader)
		if err != nil {
			if c.ctx.Err() != nil {
				log.Info("Context cancelled, exiting...")
				return
			}

			if errors.Is(err, protocol.ErrMalformedCommand) ||
				errors.Is(err, protocol.ErrUnknownCommand) ||
				errors.Is(err, protocol.ErrEmptyCommand) ||
				errors.Is(err, protocol.ErrLineTooLong) {
				log.Warn("Failed to read device command", zap.Error(err))
				continue
			}

			log.Info("Device connection closed", zap.Error(err))
			return
		}

		if c.sendToAckChan(cmd) {
			continue
		}

		select {
		case c.events <- cmd:
		case <-c.ctx.Done():
			return
		}
	}
}

// sendToAckChan hands cmd to a pending request, it reports whether there was
// one waiting.
func (c *Conn) sendToAckChan(cmd protocol.Command) bool {
	var key ackKey

	switch ack := cmd.(type) {
	case *protocol.SubscribedCommand:
		key = ackKey{verb: protocol.VerbSubscribed, service: ack.Service()}

	case *protocol.UnsubscribedCommand:
		key = ackKey{verb: protocol.VerbUnsubscribed, service: ack.Service()}

	// Some devices acknowledge by echoing the request
	case *protocol.UnsubscribeCommand:
		key = ackKey{verb: protocol.VerbUnsubscribed, service: ack.Service()}

	default:
		return false
	}

	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	ackChan, ok := c.acks[key]
	if !ok {
		return false
	}

	// Buffered, and only ever resolved once
	ackChan <- cmd
	delete(c.acks, key)

	return true
}

// createAckChan registers a pending request. A second request for the same
// service replaces the first, which then only returns on ctx or disconnect.
func (c *Conn) createAckChan(key ackKey) chan protocol.Command {
	ackChan := make(chan protocol.Command, 1)

	c.ackMu.Lock()
	c.acks[key] = ackChan
	c.ackMu.Unlock()

	return ackChan
}

func (c *Conn) destroyAckChan(key ackKey, ackChan chan protocol.Command) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	if c.acks[key] == ackChan {
		delete(c.acks, key)
	}
}
