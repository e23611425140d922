// Package relay implements an in-memory collaboration relay. Clients join
// rooms over WebSocket; the relay keeps each room's update log, hands it to
// joiners and fans out updates and presence to the other members.
//
// The WebSocket server is implemented using the `gws` library. The same
// listener serves a JSON room listing on /rooms and Prometheus metrics on
// /metrics.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lxzan/gws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/collabkit/channels/pkg/constants"
	"github.com/collabkit/channels/pkg/document"
	"github.com/collabkit/channels/pkg/logger"
	"github.com/collabkit/channels/pkg/metrics"
	"github.com/collabkit/channels/pkg/protocol"
)

// DefaultCompactThreshold is the update log length at which a room's log is
// merged into a single update.
const DefaultCompactThreshold = 256

// AuthorizeFunc decides whether a join request may enter room.
// A non-nil error rejects the join and is reported to the client.
type AuthorizeFunc func(room string, params map[string]any) error

type Config struct {
	// Addr is the listen address. Use "127.0.0.1:0" for a random port.
	Addr string

	Authorize        AuthorizeFunc
	CompactThreshold int
	Logger           logger.Logger
	Metrics          *metrics.Relay
	// Codec must match the clients'. Defaults to protocol.Default.
	Codec *protocol.Codec

	// Gatherer backs the /metrics endpoint. Defaults to
	// prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg      Config
	upgrader *gws.Upgrader
	http     *http.Server
	listener net.Listener

	mu    sync.RWMutex
	rooms map[string]*room
	peers map[*gws.Conn]*peer
}

type room struct {
	name     string
	log      [][]byte
	members  map[*gws.Conn]string
	presence map[string]map[string]any
}

// peer tracks the rooms a connection joined and the client id it joined
// them with.
type peer struct {
	rooms map[string]string
}

// Handler implements the gws.Event interface for relay connections.
type Handler struct {
	server *Server
}

// NewServer creates a relay. Call Start to begin listening.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = DefaultCompactThreshold
	}
	if cfg.Codec == nil {
		cfg.Codec = &protocol.Default
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:   cfg,
		rooms: make(map[string]*room),
		peers: make(map[*gws.Conn]*peer),
	}
	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{})

	mux := http.NewServeMux()
	mux.HandleFunc(constants.WebsocketPath, s.serveWebsocket)
	mux.HandleFunc("/rooms", s.serveRooms)
	mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	return s
}

func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("relay server stopped", "error", err)
		}
	}()

	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	err := s.http.Close()
	s.mu.Lock()
	conns := make([]*gws.Conn, 0, len(s.peers))
	for c := range s.peers {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.NetConn().Close()
	}
	return err
}

func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// URL returns the WebSocket endpoint of a started server.
func (s *Server) URL() string {
	return fmt.Sprintf("%s://%s%s", constants.WebsocketScheme, s.Address(), constants.WebsocketPath)
}

// DropConnections closes every client connection without a close frame,
// as a network failure would.
func (s *Server) DropConnections() {
	s.mu.RLock()
	conns := make([]*gws.Conn, 0, len(s.peers))
	for c := range s.peers {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.NetConn().Close()
	}
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.cfg.Logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	go socket.ReadLoop()
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.peers[socket] = &peer{rooms: make(map[string]string)}
	h.server.mu.Unlock()
	h.server.cfg.Metrics.RecordConnection(1)
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	s := h.server
	s.mu.Lock()
	p, ok := s.peers[socket]
	delete(s.peers, socket)
	var notices []notice
	if ok {
		for name := range p.rooms {
			notices = append(notices, s.leaveLocked(socket, p, name)...)
		}
	}
	s.cfg.Metrics.SetRooms(s.activeRoomsLocked())
	s.mu.Unlock()

	if ok {
		s.cfg.Metrics.RecordConnection(-1)
	}
	s.deliver(notices)
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.cfg.Logger.Debug("failed to write pong", "error", err)
	}
}

func (h *Handler) OnPong(*gws.Conn, []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	s := h.server
	msg, err := s.cfg.Codec.Decode(message.Bytes())
	if err != nil {
		s.cfg.Logger.Debug("dropping invalid frame", "error", err)
		return
	}
	s.cfg.Metrics.RecordMessage(msg.Type.String(), len(msg.Update))

	switch msg.Type {
	case protocol.TypeJoin:
		s.handleJoin(socket, msg)
	case protocol.TypeUpdate:
		s.handleUpdate(socket, msg)
	case protocol.TypeAwareness:
		s.handleAwareness(socket, msg)
	case protocol.TypeLeave:
		s.handleLeave(socket, msg)
	default:
		s.reject(socket, msg.Room, fmt.Sprintf("unexpected %s message", msg.Type))
	}
}

// notice is a frame to write once the server lock is released.
type notice struct {
	to  *gws.Conn
	msg *protocol.Message
}

func (s *Server) deliver(notices []notice) {
	for _, n := range notices {
		s.send(n.to, n.msg)
	}
}

func (s *Server) send(socket *gws.Conn, msg *protocol.Message) {
	data, err := s.cfg.Codec.Encode(msg)
	if err != nil {
		s.cfg.Logger.Error("failed to encode message", "type", msg.Type.String(), "error", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		s.cfg.Logger.Debug("failed to write message", "type", msg.Type.String(), "error", err)
	}
}

func (s *Server) reject(socket *gws.Conn, roomName, reason string) {
	s.send(socket, &protocol.Message{Type: protocol.TypeError, Room: roomName, Reason: reason})
}

func (s *Server) handleJoin(socket *gws.Conn, msg *protocol.Message) {
	if s.cfg.Authorize != nil {
		if err := s.cfg.Authorize(msg.Room, msg.Params); err != nil {
			s.reject(socket, msg.Room, err.Error())
			return
		}
	}

	s.mu.Lock()
	p, ok := s.peers[socket]
	if !ok {
		s.mu.Unlock()
		return
	}
	r := s.rooms[msg.Room]
	if r == nil {
		r = &room{
			name:     msg.Room,
			members:  make(map[*gws.Conn]string),
			presence: make(map[string]map[string]any),
		}
		s.rooms[msg.Room] = r
	}
	r.members[socket] = msg.ClientID
	p.rooms[msg.Room] = msg.ClientID

	replies := []notice{
		{to: socket, msg: &protocol.Message{Type: protocol.TypeJoined, Room: r.name}},
		{to: socket, msg: &protocol.Message{Type: protocol.TypeSync, Room: r.name, State: append([][]byte(nil), r.log...)}},
	}
	for clientID, state := range r.presence {
		replies = append(replies, notice{to: socket, msg: &protocol.Message{
			Type: protocol.TypeAwareness, Room: r.name, ClientID: clientID, Presence: state,
		}})
	}
	s.cfg.Metrics.SetRooms(s.activeRoomsLocked())
	s.mu.Unlock()

	s.deliver(replies)
}

func (s *Server) handleUpdate(socket *gws.Conn, msg *protocol.Message) {
	s.mu.Lock()
	r := s.rooms[msg.Room]
	if r == nil || !r.isMember(socket) {
		s.mu.Unlock()
		s.reject(socket, msg.Room, "not a member")
		return
	}
	r.log = append(r.log, msg.Update)
	if len(r.log) >= s.cfg.CompactThreshold {
		s.compactLocked(r)
	}
	notices := r.broadcast(socket, &protocol.Message{Type: protocol.TypeUpdate, Room: r.name, Update: msg.Update})
	s.mu.Unlock()

	s.deliver(notices)
}

// compactLocked merges the room's log into one update.
func (s *Server) compactLocked(r *room) {
	merged, err := document.MergeUpdates(r.log...)
	if err != nil {
		s.cfg.Logger.Error("failed to compact room log", "room", r.name, "error", err)
		return
	}
	r.log = [][]byte{merged}
}

func (s *Server) handleAwareness(socket *gws.Conn, msg *protocol.Message) {
	s.mu.Lock()
	r := s.rooms[msg.Room]
	if r == nil || !r.isMember(socket) {
		s.mu.Unlock()
		s.reject(socket, msg.Room, "not a member")
		return
	}
	if msg.Presence == nil {
		delete(r.presence, msg.ClientID)
	} else {
		r.presence[msg.ClientID] = msg.Presence
	}
	notices := r.broadcast(socket, &protocol.Message{
		Type: protocol.TypeAwareness, Room: r.name, ClientID: msg.ClientID, Presence: msg.Presence,
	})
	s.mu.Unlock()

	s.deliver(notices)
}

func (s *Server) handleLeave(socket *gws.Conn, msg *protocol.Message) {
	s.mu.Lock()
	p, ok := s.peers[socket]
	var notices []notice
	if ok {
		notices = s.leaveLocked(socket, p, msg.Room)
	}
	s.cfg.Metrics.SetRooms(s.activeRoomsLocked())
	s.mu.Unlock()

	s.deliver(notices)
}

// leaveLocked removes socket from a room and announces its departure to
// the remaining members. The room and its log survive for late joiners.
func (s *Server) leaveLocked(socket *gws.Conn, p *peer, roomName string) []notice {
	clientID := p.rooms[roomName]
	delete(p.rooms, roomName)

	r := s.rooms[roomName]
	if r == nil || !r.isMember(socket) {
		return nil
	}
	delete(r.members, socket)
	if clientID == "" {
		return nil
	}
	delete(r.presence, clientID)
	return r.broadcast(socket, &protocol.Message{Type: protocol.TypeAwareness, Room: r.name, ClientID: clientID})
}

func (s *Server) activeRoomsLocked() int {
	n := 0
	for _, r := range s.rooms {
		if len(r.members) > 0 {
			n++
		}
	}
	return n
}

func (r *room) isMember(socket *gws.Conn) bool {
	_, ok := r.members[socket]
	return ok
}

func (r *room) broadcast(from *gws.Conn, msg *protocol.Message) []notice {
	notices := make([]notice, 0, len(r.members))
	for member := range r.members {
		if member != from {
			notices = append(notices, notice{to: member, msg: msg})
		}
	}
	return notices
}

// RoomInfo describes one room for the /rooms endpoint.
type RoomInfo struct {
	Name         string   `json:"name"`
	Members      int      `json:"members"`
	Updates      int      `json:"updates"`
	Participants []string `json:"participants"`
}

// Rooms lists every room the relay knows, sorted by name.
func (s *Server) Rooms() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		info := RoomInfo{Name: r.name, Members: len(r.members), Updates: len(r.log), Participants: []string{}}
		for clientID := range r.presence {
			info.Participants = append(info.Participants, clientID)
		}
		sort.Strings(info.Participants)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) serveRooms(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(s.Rooms())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
