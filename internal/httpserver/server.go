// Package httpserver serves the server-role artifacts over a
// minimal HTTP/1.x responder: one request per connection, only the request
// line is read, headers and bodies are ignored.
package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"

	"github.com/fetch-github-hosts/fgh/internal/artifact"
	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/metrics"
)

const (
	// RequestBufferSize bounds how much of a request is read.
	RequestBufferSize = 4096
	// MaxWorkers bounds concurrently handled connections.
	MaxWorkers = 64

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// Routes, also used as metric labels.
const (
	RouteText   = "hosts.txt"
	RouteJSON   = "hosts.json"
	RouteStatus = "status"
)

// Server answers /hosts.txt, /hosts.json and a status page for anything else.
type Server struct {
	port    int
	store   *artifact.Store
	page    *artifact.Page
	metrics *metrics.Metrics
	clock   clockwork.Clock

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	sem      chan struct{}
	conns    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts served requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock sets the clock used for the status page timestamp.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a server for port. Port 0 picks a free port.
func New(port int, store *artifact.Store, page *artifact.Page, opts ...Option) *Server {
	s := &Server{
		port:   port,
		store:  store,
		page:   page,
		clock:  clockwork.NewRealClock(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		sem:    make(chan struct{}, MaxWorkers),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener on all interfaces and starts accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		s.finish()
		return failure.New(failure.KindBind, fmt.Sprintf("listen on port %d", s.port), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed once the accept loop and its connections have finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown signals the accept loop to stop and waits up to timeout for it.
// It reports whether the server finished in time.
func (s *Server) Shutdown(timeout time.Duration) bool {
	s.mu.Lock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.listener != nil {
		s.listener.Close()
	} else {
		s.finish()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		zlog.Warn("HTTP server did not stop in time", "timeout", timeout.String())
		return false
	}
}

func (s *Server) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) acceptLoop() {
	defer func() {
		s.conns.Wait()
		s.finish()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				zlog.Debug("Accept failed", "error", err.Error())
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.stopCh:
			conn.Close()
			return
		}

		s.conns.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.conns.Done()
			}()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, RequestBufferSize)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		return
	}

	route, contentType, body := s.route(parsePath(buf[:n]))
	s.metrics.ObserveRequest(route)

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(response(contentType, body)); err != nil {
		zlog.Debug("Write response failed", "remote", conn.RemoteAddr().String(), "error", err.Error())
	}
}

func (s *Server) route(path string) (route, contentType string, body []byte) {
	switch path {
	case "/hosts.txt":
		return RouteText, "text/plain", s.store.Text()
	case "/hosts.json":
		return RouteJSON, "application/json", s.store.JSON()
	default:
		return RouteStatus, "text/html; charset=utf-8", s.page.Render(s.clock.Now())
	}
}

// parsePath extracts the path token of the request line, without its query
// string. Anything unparsable maps to "/".
func parsePath(req []byte) string {
	line := req
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return "/"
	}
	path := fields[1]
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	return path
}

func response(contentType string, body []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(body) + 160)
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	b.WriteString("Access-Control-Allow-Origin: *\r\n")
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}
