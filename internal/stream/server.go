// Package stream implements the real-time position broadcast subsystem: a
// single-owner connection registry fanning position updates out to the
// websocket sessions subscribed to a user.
package stream

import (
	"context"

	"github.com/phuslu/log"

	"nuha.dev/tesou/internal/util"
)

// ConnId identifies one live websocket connection. Ids are random 64-bit
// values, unique among currently active connections.
type ConnId = uint64

// UserId identifies the subject whose position stream a connection is
// subscribed to. 16 bits because that is all the share-token payload carries.
type UserId = uint16

// Commands accepted by the server loop. All registry access goes through
// these; the state itself never leaves the owning goroutine, which is what
// replaces locking.
type connectCmd struct {
	user UserId
	sub  *Subscriber
	res  chan ConnId
}

type disconnectCmd struct {
	conn ConnId
}

type publishCmd struct {
	user UserId
	msg  []byte
	res  chan struct{}
}

type countCmd struct {
	res chan int
}

// Server owns the connection registry and subscription index. Call Run on a
// dedicated goroutine; it processes commands strictly in arrival order until
// the context is cancelled. The server must outlive every Handle derived
// from it.
type Server struct {
	sessions map[ConnId]*Subscriber
	users    map[UserId]map[ConnId]struct{}
	active   int
	cmd      chan interface{}
	done     chan struct{}
	log      log.Logger
}

func NewServer() (*Server, *Handle) {
	s := &Server{
		sessions: make(map[ConnId]*Subscriber),
		users:    make(map[UserId]map[ConnId]struct{}),
		cmd:      make(chan interface{}),
		done:     make(chan struct{}),
	}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "stream-server").Value()
	return s, &Handle{cmd: s.cmd, done: s.done}
}

func (s *Server) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmd:
			switch c := cmd.(type) {
			case connectCmd:
				c.res <- s.connect(c.sub, c.user)
			case disconnectCmd:
				s.disconnect(c.conn)
			case publishCmd:
				s.publish(c.user, c.msg)
				c.res <- struct{}{}
			case countCmd:
				c.res <- s.active
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) connect(sub *Subscriber, user UserId) ConnId {
	id := util.GenRandomUint64()
	// an id collision with a live connection would make a later disconnect
	// tear down the wrong session, so regenerate until the id is free
	for {
		if _, live := s.sessions[id]; !live {
			break
		}
		s.log.Warn().Uint64("conn_id", id).Msg("connection id collision, regenerating")
		id = util.GenRandomUint64()
	}
	s.sessions[id] = sub
	set, ok := s.users[user]
	if !ok {
		set = make(map[ConnId]struct{})
		s.users[user] = set
	}
	set[id] = struct{}{}
	s.active++
	s.log.Info().Uint64("conn_id", id).Uint16("user_id", user).Int("active", s.active).Msg("endpoint connected")
	return id
}

func (s *Server) disconnect(conn ConnId) {
	if _, ok := s.sessions[conn]; !ok {
		// already removed, disconnect is idempotent
		return
	}
	delete(s.sessions, conn)
	for user, set := range s.users {
		if _, ok := set[conn]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(s.users, user)
			}
			break
		}
	}
	s.active--
	s.log.Info().Uint64("conn_id", conn).Int("active", s.active).Msg("endpoint disconnected")
}

func (s *Server) publish(user UserId, msg []byte) {
	for conn := range s.users[user] {
		if sub, ok := s.sessions[conn]; ok {
			// a full sink drops the message; the connection is either slow
			// or mid-teardown and will issue its own disconnect
			sub.Push(msg)
		}
	}
}

// Handle is the cloneable command-issuing facade for the server. Issuing a
// command after the server goroutine has stopped is a lifecycle bug in the
// host process and panics.
type Handle struct {
	cmd  chan<- interface{}
	done <-chan struct{}
}

// Connect registers the subscriber under user and returns the fresh
// connection id.
func (h *Handle) Connect(sub *Subscriber, user UserId) ConnId {
	res := make(chan ConnId, 1)
	h.send(connectCmd{user: user, sub: sub, res: res})
	select {
	case id := <-res:
		return id
	case <-h.done:
		panic("stream: server stopped with live handles")
	}
}

// Disconnect removes the connection from the registry. Safe to call for an
// id that was already removed.
func (h *Handle) Disconnect(conn ConnId) {
	h.send(disconnectCmd{conn: conn})
}

// Publish fans msg out to every connection subscribed to user. Delivery is
// fire-and-forget; it returns once the server has processed the command.
func (h *Handle) Publish(user UserId, msg []byte) {
	res := make(chan struct{}, 1)
	h.send(publishCmd{user: user, msg: msg, res: res})
	select {
	case <-res:
	case <-h.done:
		panic("stream: server stopped with live handles")
	}
}

// Count returns the number of currently active connections across all users.
func (h *Handle) Count() int {
	res := make(chan int, 1)
	h.send(countCmd{res: res})
	select {
	case n := <-res:
		return n
	case <-h.done:
		panic("stream: server stopped with live handles")
	}
}

func (h *Handle) send(cmd interface{}) {
	select {
	case h.cmd <- cmd:
	case <-h.done:
		panic("stream: server stopped with live handles")
	}
}
