package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tracklink/internal/control"
	"github.com/banshee-data/tracklink/internal/monitoring"
)

// CommandConfig holds configuration for the command server.
type CommandConfig struct {
	// ListenAddr is the address to listen on (e.g., ":6000")
	ListenAddr string

	// QueueSize bounds commands waiting for the writer goroutine
	QueueSize int

	// WriteTimeout is the deadline for a single command write
	WriteTimeout time.Duration

	// LogInterval is how often dropped-command counts are logged
	LogInterval time.Duration

	Hooks Hooks
}

// DefaultCommandConfig returns the default configuration.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		ListenAddr:   ":6000",
		QueueSize:    64,
		WriteTimeout: 2 * time.Second,
		LogInterval:  10 * time.Second,
	}
}

const acceptBackoff = 100 * time.Millisecond

// CommandServer streams command lines to whichever controller connected
// last. Send never blocks: commands are queued for a single writer goroutine
// and dropped when the queue is full or no client is attached.
type CommandServer struct {
	config CommandConfig
	queue  chan control.Command
	errLog *monitoring.Throttle

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	running   atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// mu guards the listener and the current client
	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	session  Session
	state    State

	// Stats
	sent        atomic.Uint64
	dropped     atomic.Uint64
	writeErrors atomic.Uint64
	accepts     atomic.Uint64
}

// CommandStats is a snapshot of command server counters.
type CommandStats struct {
	State       State    `json:"state"`
	Session     *Session `json:"session,omitempty"`
	Sent        uint64   `json:"sent"`
	Dropped     uint64   `json:"dropped"`
	WriteErrors uint64   `json:"write_errors"`
	Accepts     uint64   `json:"accepts"`
}

// NewCommandServer creates a stopped server. Zero config fields take their
// defaults.
func NewCommandServer(cfg CommandConfig) *CommandServer {
	def := DefaultCommandConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = def.LogInterval
	}
	return &CommandServer{
		config: cfg,
		queue:  make(chan control.Command, cfg.QueueSize),
		errLog: monitoring.NewThrottle(5*time.Second, 1),
	}
}

// Start binds the listener and starts the accept and writer goroutines.
// Calling Start on a running server is a no-op.
func (s *CommandServer) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		return nil
	}

	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	// discard anything queued before a previous Stop
	s.drainQueue()

	s.mu.Lock()
	s.listener = lis
	s.state = StateListening
	s.mu.Unlock()

	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.running.Store(true)

	s.wg.Add(2)
	go s.acceptLoop(lis, stopCh)
	go s.writeLoop(stopCh)

	monitoring.Logf("[Command] Listening on %s", lis.Addr())
	return nil
}

// Stop closes the client and the listener and waits for the goroutines to
// exit. Safe to call more than once.
func (s *CommandServer) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)

	s.mu.Lock()
	lis, conn, sess := s.listener, s.conn, s.session
	s.listener = nil
	s.conn = nil
	s.session = Session{}
	s.state = StateIdle
	s.mu.Unlock()

	if lis != nil {
		lis.Close()
	}
	if conn != nil {
		conn.Close()
		s.config.Hooks.disconnected(sess, ErrServerStopped)
	}

	s.wg.Wait()
	monitoring.Logf("[Command] Server stopped")
}

// Send queues cmd for the attached client. It never blocks and never fails:
// with no client the command is discarded, and with a full queue it is
// dropped and counted.
func (s *CommandServer) Send(cmd control.Command) {
	if !s.running.Load() || !s.Connected() {
		return
	}
	select {
	case s.queue <- cmd:
	default:
		s.dropped.Add(1)
	}
}

// Connected reports whether a client is attached.
func (s *CommandServer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Addr is the bound listener address, or nil when stopped.
func (s *CommandServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns current counters.
func (s *CommandServer) Stats() CommandStats {
	s.mu.Lock()
	st := CommandStats{State: s.state}
	if s.conn != nil {
		sess := s.session
		st.Session = &sess
	}
	s.mu.Unlock()

	st.Sent = s.sent.Load()
	st.Dropped = s.dropped.Load()
	st.WriteErrors = s.writeErrors.Load()
	st.Accepts = s.accepts.Load()
	return st
}

func (s *CommandServer) acceptLoop(lis net.Listener, stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.errLog.Logf("[Command] Accept failed: %v", err)
			select {
			case <-stopCh:
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		s.attach(conn)
	}
}

// attach makes conn the current client, closing any previous one.
func (s *CommandServer) attach(conn net.Conn) {
	sess := Session{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		Connected:  time.Now(),
	}

	s.mu.Lock()
	if s.listener == nil {
		// Stop won the race
		s.mu.Unlock()
		conn.Close()
		return
	}
	prev, prevSess := s.conn, s.session
	stale := 0
	if prev != nil {
		// commands computed for the old client are not replayed to the new one
		stale = s.drainQueue()
	}
	s.conn = conn
	s.session = sess
	s.state = StateConnected
	s.wg.Add(1)
	s.mu.Unlock()

	s.accepts.Add(1)
	if prev != nil {
		prev.Close()
		s.dropped.Add(uint64(stale))
		monitoring.Logf("[Command] Client %s superseded by %s (%d queued commands discarded)", prevSess.RemoteAddr, sess.RemoteAddr, stale)
		s.config.Hooks.disconnected(prevSess, ErrSuperseded)
	}
	monitoring.Logf("[Command] Client connected: %s (session %s)", sess.RemoteAddr, sess.ID)
	s.config.Hooks.connected(sess)

	go s.watch(conn)
}

// drainQueue discards every queued command and returns how many there were.
func (s *CommandServer) drainQueue() int {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			return n
		}
	}
}

// watch drains anything the client sends and detaches it on EOF so the
// state reflects a peer that hung up while no commands were flowing.
func (s *CommandServer) watch(conn net.Conn) {
	defer s.wg.Done()
	_, err := io.Copy(io.Discard, conn)
	if err == nil {
		err = io.EOF
	}
	s.detach(conn, err)
}

// detach clears conn if it is still the current client.
func (s *CommandServer) detach(conn net.Conn, reason error) {
	s.mu.Lock()
	current := s.conn == conn
	sess := s.session
	if current {
		s.conn = nil
		s.session = Session{}
		if s.listener != nil {
			s.state = StateListening
		}
	}
	s.mu.Unlock()

	conn.Close()
	if current {
		monitoring.Logf("[Command] Client disconnected: %s (%v)", sess.RemoteAddr, reason)
		s.config.Hooks.disconnected(sess, reason)
	}
}

func (s *CommandServer) writeLoop(stopCh chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.LogInterval)
	defer ticker.Stop()
	var lastDropped uint64

	for {
		select {
		case <-stopCh:
			return
		case cmd := <-s.queue:
			s.write(cmd)
		case <-ticker.C:
			// Only log if commands were dropped in this interval
			if d := s.dropped.Load(); d > lastDropped {
				monitoring.Logf("[Command] Dropped %d commands (queue full)", d-lastDropped)
				lastDropped = d
			}
		}
	}
}

func (s *CommandServer) write(cmd control.Command) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write(cmd.Line()); err != nil {
		s.writeErrors.Add(1)
		s.errLog.Logf("[Command] Write to %s failed: %v", conn.RemoteAddr(), err)
		s.detach(conn, err)
		return
	}
	s.sent.Add(1)
}
