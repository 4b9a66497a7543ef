package network

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/gift"
	"github.com/google/uuid"

	"github.com/banshee-data/tracklink/internal/geometry"
	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/source"
)

// VideoConfig holds configuration for the video server.
type VideoConfig struct {
	// ListenAddr is the address to listen on (e.g., ":6001")
	ListenAddr string

	// Quality is the JPEG quality, 1-100
	Quality int

	// QueueSize bounds frames waiting for the encoder
	QueueSize int

	// Upright rotates and mirrors frames to upright before encoding
	Upright bool

	// WriteTimeout is the deadline for a single frame write
	WriteTimeout time.Duration

	Hooks Hooks
}

// DefaultVideoConfig returns the default configuration.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		ListenAddr:   ":6001",
		Quality:      50,
		QueueSize:    2,
		WriteTimeout: 2 * time.Second,
	}
}

// VideoServer streams length-prefixed JPEG frames to one viewer. It accepts
// a single connection per Start; once that viewer goes away frames are
// discarded until the server is restarted.
type VideoServer struct {
	config VideoConfig
	queue  chan source.Frame
	errLog *monitoring.Throttle

	lifecycle sync.Mutex
	running   atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// attached mirrors conn != nil for the lock-free SendFrame check
	attached atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	session  Session
	state    State

	// Stats
	frames      atomic.Uint64
	bytes       atomic.Uint64
	encoded     atomic.Uint64
	dropped     atomic.Uint64
	writeErrors atomic.Uint64
}

// VideoStats is a snapshot of video server counters.
type VideoStats struct {
	State       State    `json:"state"`
	Session     *Session `json:"session,omitempty"`
	FramesSent  uint64   `json:"frames_sent"`
	BytesSent   uint64   `json:"bytes_sent"`
	Encoded     uint64   `json:"encoded"`
	Dropped     uint64   `json:"dropped"`
	WriteErrors uint64   `json:"write_errors"`
}

// NewVideoServer creates a stopped server. Zero config fields take their
// defaults.
func NewVideoServer(cfg VideoConfig) *VideoServer {
	def := DefaultVideoConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &VideoServer{
		config: cfg,
		queue:  make(chan source.Frame, cfg.QueueSize),
		errLog: monitoring.NewThrottle(5*time.Second, 1),
	}
}

// Start binds the listener and waits for one viewer in the background.
// Calling Start on a running server is a no-op.
func (s *VideoServer) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		return nil
	}

	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	for len(s.queue) > 0 {
		<-s.queue
	}

	s.mu.Lock()
	s.listener = lis
	s.state = StateListening
	s.mu.Unlock()

	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.running.Store(true)

	s.wg.Add(2)
	go s.acceptOnce(lis)
	go s.encodeLoop(stopCh)

	monitoring.Logf("[Video] Listening on %s", lis.Addr())
	return nil
}

// Stop closes the viewer and the listener. Safe to call more than once.
func (s *VideoServer) Stop() {
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
	s.attached.Store(false)
	s.mu.Unlock()

	if lis != nil {
		lis.Close()
	}
	if conn != nil {
		conn.Close()
		s.config.Hooks.disconnected(sess, ErrServerStopped)
	}

	s.wg.Wait()
	monitoring.Logf("[Video] Server stopped")
}

// SendFrame queues f for encoding. With no viewer attached it returns
// immediately without touching the image.
func (s *VideoServer) SendFrame(f source.Frame) {
	if !s.attached.Load() {
		return
	}
	select {
	case s.queue <- f:
	default:
		s.dropped.Add(1)
	}
}

// Connected reports whether a viewer is attached.
func (s *VideoServer) Connected() bool {
	return s.attached.Load()
}

// Addr is the bound listener address, or nil when stopped.
func (s *VideoServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns current counters.
func (s *VideoServer) Stats() VideoStats {
	s.mu.Lock()
	st := VideoStats{State: s.state}
	if s.conn != nil {
		sess := s.session
		st.Session = &sess
	}
	s.mu.Unlock()

	st.FramesSent = s.frames.Load()
	st.BytesSent = s.bytes.Load()
	st.Encoded = s.encoded.Load()
	st.Dropped = s.dropped.Load()
	st.WriteErrors = s.writeErrors.Load()
	return st
}

func (s *VideoServer) acceptOnce(lis net.Listener) {
	defer s.wg.Done()
	conn, err := lis.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			monitoring.Logf("[Video] Accept failed: %v", err)
		}
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	sess := Session{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		Connected:  time.Now(),
	}
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.session = sess
	s.state = StateConnected
	s.attached.Store(true)
	s.mu.Unlock()

	monitoring.Logf("[Video] Viewer connected: %s (session %s)", sess.RemoteAddr, sess.ID)
	s.config.Hooks.connected(sess)
}

// detach drops conn after a failed write. The server stays bound but does
// not accept again until restarted.
func (s *VideoServer) detach(conn net.Conn, reason error) {
	s.mu.Lock()
	current := s.conn == conn
	sess := s.session
	if current {
		s.conn = nil
		s.session = Session{}
		s.state = StateIdle
		s.attached.Store(false)
	}
	s.mu.Unlock()

	conn.Close()
	if current {
		monitoring.Logf("[Video] Viewer disconnected: %s (%v)", sess.RemoteAddr, reason)
		s.config.Hooks.disconnected(sess, reason)
	}
}

func (s *VideoServer) encodeLoop(stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case f := <-s.queue:
			s.send(f)
		}
	}
}

func (s *VideoServer) send(f source.Frame) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || f.Image == nil {
		return
	}

	buf := getBuffer()
	defer putBuffer(buf)

	img := f.Image
	if s.config.Upright {
		img = Upright(img, f.Rotation, f.Mirrored)
	}
	data, err := encodeFrame(buf, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: s.config.Quality})
	})
	if errors.Is(err, ErrFrameTooLarge) {
		s.encoded.Add(1)
		s.errLog.Logf("[Video] Frame %d dropped: %v", f.Seq, err)
		s.dropped.Add(1)
		return
	}
	if err != nil {
		s.errLog.Logf("[Video] JPEG encode failed: %v", err)
		return
	}
	s.encoded.Add(1)

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write(data); err != nil {
		// a partial write leaves the stream unframed; never reuse it
		s.writeErrors.Add(1)
		s.errLog.Logf("[Video] Write to %s failed: %v", conn.RemoteAddr(), err)
		s.detach(conn, err)
		return
	}
	s.frames.Add(1)
	s.bytes.Add(uint64(len(data)))
}

// Upright turns a sensor-orientation image upright and undoes mirroring.
// rot is the clockwise correction.
func Upright(img image.Image, rot geometry.Rotation, mirrored bool) image.Image {
	var filters []gift.Filter
	switch rot {
	case geometry.Rotate90:
		filters = append(filters, gift.Rotate270())
	case geometry.Rotate180:
		filters = append(filters, gift.Rotate180())
	case geometry.Rotate270:
		filters = append(filters, gift.Rotate90())
	}
	if mirrored {
		filters = append(filters, gift.FlipHorizontal())
	}
	if len(filters) == 0 {
		return img
	}
	g := gift.New(filters...)
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}
