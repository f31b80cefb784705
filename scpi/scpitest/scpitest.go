// Package scpitest provides a fake line-oriented SCPI instrument for tests.
package scpitest

import (
	"bufio"
	"net"
	"strings"
	"sync"
)

// Server is a fake instrument listening on the loopback interface.  It records
// every line it receives and answers queries from Responses.
type Server struct {
	Addr string

	ln net.Listener

	mu        sync.Mutex
	term      string
	lines     []string
	responses map[string]string
	errQueue  []string
}

// NewServer starts a Server.  Call Close when done.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{Addr: ln.Addr().String(), term: "\n", ln: ln, responses: map[string]string{}}
	go s.serve()
	return s, nil
}

// SetTerminator changes the line ending of replies; the default is "\n"
func (s *Server) SetTerminator(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
}

// Respond sets the reply for a query, matched case-sensitively on the full line
func (s *Server) Respond(query, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[query] = reply
}

// PushError places an entry like `-222,"Data out of range"` on the error queue
func (s *Server) PushError(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errQueue = append(s.errQueue, e)
}

// Lines returns a copy of every line received so far
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Close stops the listener
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if reply, ok := s.answer(line); ok {
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

func (s *Server) answer(line string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	reply, ok := s.reply(line)
	return reply + s.term, ok
}

// reply must be called with s.mu held
func (s *Server) reply(line string) (string, bool) {
	if strings.HasPrefix(line, "*CLS;") && strings.HasSuffix(line, ";:SYSTem:ERRor?") {
		body := strings.TrimSuffix(strings.TrimPrefix(line, "*CLS;"), ";:SYSTem:ERRor?")
		e := s.popError()
		if strings.Contains(body, "?") {
			return s.responses[body] + ";" + e, true
		}
		return e, true
	}
	if line == "SYSTem:ERRor?" {
		return s.popError(), true
	}
	if strings.Contains(line, "?") {
		return s.responses[line], true
	}
	return "", false
}

// popError must be called with s.mu held
func (s *Server) popError() string {
	if len(s.errQueue) == 0 {
		return `0,"No error"`
	}
	e := s.errQueue[0]
	s.errQueue = s.errQueue[1:]
	return e
}
