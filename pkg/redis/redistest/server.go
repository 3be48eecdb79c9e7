// Package redistest runs an in-process RESP server that understands AUTH,
// SELECT, RPUSH, LRANGE and PING, records every command it receives and lets
// tests inject failures: error replies, silence, dropped connections.
package redistest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"logship/pkg/datastruct/list"
	"logship/pkg/redis"
	"logship/pkg/util/str"
)

const databases = 16

// Response overrides the default handling of one command.
type Response struct {
	// Reply is written verbatim when non-nil.
	Reply []byte
	// Hang stops answering on this connection; commands are still read and recorded.
	Hang bool
	// Close drops the connection without replying.
	Close bool
}

// Hook sees every command before the server does. Returning nil falls through
// to the default behaviour.
type Hook func(args []string) *Response

type Server struct {
	listener net.Listener
	password string

	mu          sync.Mutex
	hook        Hook
	commands    [][]string
	connections int
	closed      bool
	active      map[net.Conn]struct{}
	lists       [databases]map[string]*list.LinkedList

	wg sync.WaitGroup
}

// NewServer starts a server on a random loopback port and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s, err := Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("start redistest server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func Start(address string) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	s := &Server{listener: listener, active: make(map[net.Conn]struct{})}
	for i := range s.lists {
		s.lists[i] = make(map[string]*list.LinkedList)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host and Port split Addr for config.Properties.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// RequirePass makes every command other than AUTH fail with NOAUTH until the
// connection authenticates with password.
func (s *Server) RequirePass(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
}

func (s *Server) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Commands returns every command received so far, in arrival order.
func (s *Server) Commands() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// CommandNames returns the upper-cased name of every received command.
func (s *Server) CommandNames() []string {
	var names []string
	for _, cmd := range s.Commands() {
		names = append(names, cmd[0])
	}
	return names
}

// Connections is the number of connections accepted so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// List returns the contents of key in database db.
func (s *Server) List(db int, key string) []string {
	if db < 0 || db >= databases {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[db][key]
	if !ok {
		return nil
	}
	var out []string
	l.ForEach(func(_ int, v []byte) bool {
		out = append(out, string(v))
		return true
	})
	return out
}

// Close stops accepting, drops every connection and waits for their goroutines.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.mu.Lock()
	s.closed = true
	for c := range s.active {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.connections++
		s.active[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

type session struct {
	db     int
	authed bool
	hung   bool
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	reader := bufio.NewReader(conn)
	sess := &session{}
	for {
		req, err := redis.ReadReply(reader)
		if err != nil {
			return
		}
		args := make([]string, 0, len(req.Array))
		for _, part := range req.Array {
			// each bulk is freshly allocated by ReadReply and never reused
			args = append(args, str.BytesToString(part.Bulk))
		}
		if len(args) == 0 {
			continue
		}
		args[0] = strings.ToUpper(args[0])

		s.mu.Lock()
		s.commands = append(s.commands, args)
		hook := s.hook
		s.mu.Unlock()

		var reply []byte
		if resp := runHook(hook, args); resp != nil {
			if resp.Close {
				return
			}
			if resp.Hang {
				sess.hung = true
			}
			reply = resp.Reply
		} else {
			reply = s.execute(sess, args)
		}
		if sess.hung || reply == nil {
			continue
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

func runHook(h Hook, args []string) *Response {
	if h == nil {
		return nil
	}
	return h(args)
}

func (s *Server) execute(sess *session, args []string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := args[0]
	if s.password != "" && !sess.authed && name != "AUTH" {
		return ErrorReply("NOAUTH Authentication required.")
	}
	switch name {
	case "PING":
		return SingleStringReply("PONG")
	case "AUTH":
		if len(args) != 2 {
			return ErrorReply("ERR wrong number of arguments for 'auth' command")
		}
		if s.password == "" {
			return ErrorReply("ERR AUTH <password> called without any password configured for the default user")
		}
		if args[1] != s.password {
			return ErrorReply("WRONGPASS invalid username-password pair or user is disabled.")
		}
		sess.authed = true
		return redis.OKReplyBytes
	case "SELECT":
		if len(args) != 2 {
			return ErrorReply("ERR wrong number of arguments for 'select' command")
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return ErrorReply("ERR value is not an integer or out of range")
		}
		if idx < 0 || idx >= databases {
			return ErrorReply("ERR DB index is out of range")
		}
		sess.db = idx
		return redis.OKReplyBytes
	case "RPUSH":
		if len(args) < 3 {
			return ErrorReply("ERR wrong number of arguments for 'rpush' command")
		}
		l, ok := s.lists[sess.db][args[1]]
		if !ok {
			l = list.NewLinkedList()
			s.lists[sess.db][args[1]] = l
		}
		size := 0
		for _, v := range args[2:] {
			size = l.AddRight([]byte(v))
		}
		return NumberReply(size)
	case "LRANGE":
		if len(args) != 4 {
			return ErrorReply("ERR wrong number of arguments for 'lrange' command")
		}
		start, err1 := strconv.Atoi(args[2])
		end, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return ErrorReply("ERR value is not an integer or out of range")
		}
		var values [][]byte
		if l, ok := s.lists[sess.db][args[1]]; ok {
			values = l.LeftRange(start, end)
		}
		return redis.EncodeCommand(values...)
	}
	return ErrorReply("ERR unknown command '" + name + "'")
}

func NumberReply(n int) []byte {
	return []byte(":" + strconv.Itoa(n) + redis.CRLF)
}

func SingleStringReply(value string) []byte {
	return []byte("+" + value + redis.CRLF)
}

func ErrorReply(msg string) []byte {
	return []byte("-" + msg + redis.CRLF)
}
