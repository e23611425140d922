// Package gorillaws implements collab.Opener over a single gorilla WebSocket
// connection to a relay. Every room opened on a Socket gets its own
// Transport; frames are routed to transports by room name.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/constants"
	"github.com/collabkit/channels/pkg/logger"
	"github.com/collabkit/channels/pkg/protocol"
)

// DefaultDialer is the default gorilla dialer used by Dial.
//
// It uses the default gorilla dialer as of gorilla/websocket v1.5.0 with the following modifications:
// - EnableCompression is set to true
// - Subprotocols is set to [constants.Subprotocol]
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{constants.Subprotocol},
}

type Option func(s *Socket)

func WithLogger(l logger.Logger) Option {
	return func(s *Socket) {
		s.logger = l
	}
}

func WithDialer(d *gorilla.Dialer) Option {
	return func(s *Socket) {
		s.dialer = d
	}
}

func WithCodec(c protocol.Codec) Option {
	return func(s *Socket) {
		s.codec = c
	}
}

// WithWriteTimeout bounds every frame write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Socket) {
		s.writeTimeout = d
	}
}

type Socket struct {
	url          string
	dialer       *gorilla.Dialer
	codec        protocol.Codec
	logger       logger.Logger
	writeTimeout time.Duration

	Conn *gorilla.Conn
	// connLock serializes writes; gorilla supports one concurrent writer.
	connLock sync.Mutex

	mu    sync.Mutex
	rooms map[string]*Transport

	// connCloseCh is closed once the socket stops reading, either because
	// Close was called or because the connection was lost.
	connCloseCh    chan struct{}
	connCloseError error
	closed         bool
}

var _ collab.Opener = (*Socket)(nil)

// Dial connects to a relay WebSocket endpoint such as
// ws://localhost:8080/ws and starts reading frames.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrInvalidURL, err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return nil, fmt.Errorf("%w: unsupported scheme %q", constants.ErrInvalidURL, u.Scheme)
	}

	s := &Socket{
		url:          rawURL,
		dialer:       DefaultDialer,
		codec:        protocol.Default,
		logger:       logger.Nop(),
		writeTimeout: constants.DefaultWriteTimeout,
		rooms:        make(map[string]*Transport),
		connCloseCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	conn, res, err := s.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	s.Conn = conn

	// Start a goroutine to read messages from the WebSocket connection.
	// It runs until Close is called or a read error indicating a lost
	// connection occurs.
	go s.readLoop()

	return s, nil
}

// Open attaches a transport for room. The transport does not join the room
// until its Connect method is called. A room can be attached at most once
// per socket at a time.
func (s *Socket) Open(room string, doc collab.Document, presence collab.Presence, params collab.JoinParams) (collab.Transport, error) {
	rdoc, ok := doc.(collab.ReplicatedDocument)
	if !ok {
		return nil, fmt.Errorf("%w: %T", constants.ErrUnsupportedDocument, doc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, s.closeErrLocked()
	}
	if _, ok := s.rooms[room]; ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrRoomAttached, room)
	}

	t := newTransport(s, room, rdoc, presence, params)
	s.rooms[room] = t
	return t, nil
}

// Rooms returns the names of the attached rooms.
func (s *Socket) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	return names
}

// Done is closed when the socket stops reading.
func (s *Socket) Done() <-chan struct{} {
	return s.connCloseCh
}

// Err returns why the socket stopped reading, or nil while it is open.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}
	return s.closeErrLocked()
}

func (s *Socket) closeErrLocked() error {
	if s.connCloseError == nil {
		return constants.ErrSocketClosed
	}
	return fmt.Errorf("%w: %w", constants.ErrSocketClosed, s.connCloseError)
}

// Close sends a close frame and closes the connection. Attached transports
// report a disconnected status.
//
// If ctx is done before the close frame is written, the connection is
// closed anyway.
func (s *Socket) Close(ctx context.Context) error {
	if !s.closeWithError(nil) {
		return nil
	}

	s.connLock.Lock()
	defer s.connLock.Unlock()

	conn := s.Conn

	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- fmt.Errorf("BUG: Socket.Close: failed to set write deadline: %w", err)
				return
			}
		}
		err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
		select {
		case writeErr <- err:
		case <-ctx.Done():
		}
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			s.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return conn.Close()
}

// closeWithError marks the socket closed and notifies the transports.
// It reports whether this call closed the socket.
func (s *Socket) closeWithError(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.connCloseError = err
	transports := make([]*Transport, 0, len(s.rooms))
	for _, t := range s.rooms {
		transports = append(transports, t)
	}
	s.mu.Unlock()

	for _, t := range transports {
		t.lost()
	}
	close(s.connCloseCh)
	return true
}

func (s *Socket) write(m *protocol.Message) error {
	data, err := s.codec.Encode(m)
	if err != nil {
		return err
	}

	select {
	case <-s.connCloseCh:
		return s.Err()
	default:
	}

	s.connLock.Lock()
	defer s.connLock.Unlock()

	if s.writeTimeout > 0 {
		if err := s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	err = s.Conn.WriteMessage(gorilla.BinaryMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		s.closeWithError(err)
	}
	return err
}

func (s *Socket) detach(room string, t *Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[room] == t {
		delete(s.rooms, room)
	}
}

func (s *Socket) transport(room string) *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[room]
}

func (s *Socket) readLoop() {
	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			s.closeWithError(readError(err))
			return
		}
		s.dispatch(data)
	}
}

func readError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return net.ErrClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		return io.EOF
	case gorilla.IsUnexpectedCloseError(err):
		return io.ErrClosedPipe
	default:
		return err
	}
}

// dispatch routes one frame to its room. Frames are handled in arrival
// order so that a room sees joined before sync before updates.
func (s *Socket) dispatch(data []byte) {
	msg, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Error("failed to decode frame", "error", err)
		return
	}

	t := s.transport(msg.Room)
	if t == nil {
		s.logger.Debug("frame for unattached room", "room", msg.Room, "type", msg.Type.String())
		return
	}
	t.handle(msg)
}
