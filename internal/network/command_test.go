package network

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracklink/internal/control"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func startCommandServer(t *testing.T, cfg CommandConfig) *CommandServer {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	s := NewCommandServer(cfg)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dialServer(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.line
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for command line")
		return ""
	}
}

func TestDefaultCommandConfig(t *testing.T) {
	cfg := DefaultCommandConfig()
	assert.Equal(t, ":6000", cfg.ListenAddr)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)

	s := NewCommandServer(CommandConfig{})
	assert.Equal(t, ":6000", s.config.ListenAddr)
	assert.Equal(t, 64, cap(s.queue))
	assert.Equal(t, StateIdle, s.Stats().State)
	assert.Nil(t, s.Addr())
}

func TestCommandServer_SendWithoutClient(t *testing.T) {
	s := NewCommandServer(CommandConfig{ListenAddr: "127.0.0.1:0"})

	// before Start
	s.Send(control.Command{X: 1, Y: 2})

	require.NoError(t, s.Start())
	defer s.Stop()
	for i := 0; i < 1000; i++ {
		s.Send(control.Command{X: i, Y: i})
	}

	stats := s.Stats()
	assert.Equal(t, StateListening, stats.State)
	assert.Zero(t, stats.Sent)
	assert.Zero(t, stats.Dropped)
	assert.Nil(t, stats.Session)
}

func TestCommandServer_DeliversLines(t *testing.T) {
	s := startCommandServer(t, CommandConfig{})
	conn := dialServer(t, s.Addr())
	require.Eventually(t, s.Connected, waitFor, tick)

	r := bufio.NewReader(conn)
	s.Send(control.Command{X: 12, Y: -3})
	s.Send(control.Command{X: 0, Y: 0, Z: 1, HasDepth: true})

	assert.Equal(t, "12,-3\n", readLine(t, r))
	assert.Equal(t, "0,0,1\n", readLine(t, r))

	stats := s.Stats()
	assert.Equal(t, StateConnected, stats.State)
	assert.Equal(t, uint64(2), stats.Sent)
	require.NotNil(t, stats.Session)
	assert.NotEmpty(t, stats.Session.ID)
	assert.Equal(t, conn.LocalAddr().String(), stats.Session.RemoteAddr)
}

func TestCommandServer_AcceptsSecondClientAfterDisconnect(t *testing.T) {
	s := startCommandServer(t, CommandConfig{})

	first := dialServer(t, s.Addr())
	require.Eventually(t, s.Connected, waitFor, tick)
	firstID := s.Stats().Session.ID
	first.Close()
	require.Eventually(t, func() bool { return !s.Connected() }, waitFor, tick)
	assert.Equal(t, StateListening, s.Stats().State)

	second := dialServer(t, s.Addr())
	require.Eventually(t, s.Connected, waitFor, tick)

	s.Send(control.Command{X: 5, Y: 6})
	assert.Equal(t, "5,6\n", readLine(t, bufio.NewReader(second)))

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Accepts)
	assert.NotEqual(t, firstID, stats.Session.ID)
}

type hookRecorder struct {
	mu      sync.Mutex
	events  []string
	reasons []error
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnConnect: func(s Session) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, "connect")
		},
		OnDisconnect: func(s Session, reason error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, "disconnect")
			h.reasons = append(h.reasons, reason)
		},
	}
}

func (h *hookRecorder) snapshot() ([]string, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...), append([]error(nil), h.reasons...)
}

func TestCommandServer_SupersedesPreviousClient(t *testing.T) {
	rec := &hookRecorder{}
	s := startCommandServer(t, CommandConfig{Hooks: rec.hooks()})

	first := dialServer(t, s.Addr())
	require.Eventually(t, s.Connected, waitFor, tick)
	second := dialServer(t, s.Addr())
	require.Eventually(t, func() bool { return s.Stats().Accepts == 2 }, waitFor, tick)

	// the first connection is closed by the server
	first.SetReadDeadline(time.Now().Add(waitFor))
	_, err := first.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	s.Send(control.Command{X: -40, Y: 7})
	assert.Equal(t, "-40,7\n", readLine(t, bufio.NewReader(second)))

	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 3
	}, waitFor, tick)
	events, reasons := rec.snapshot()
	assert.Equal(t, []string{"connect", "disconnect", "connect"}, events)
	require.Len(t, reasons, 1)
	assert.True(t, errors.Is(reasons[0], ErrSuperseded))
}

func TestCommandServer_SupersedeDiscardsQueuedCommands(t *testing.T) {
	// no writer goroutine runs, so the queue holds what Send left behind
	s := NewCommandServer(CommandConfig{QueueSize: 8})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })
	s.listener = lis

	oldServer, oldClient := net.Pipe()
	t.Cleanup(func() { oldClient.Close() })
	s.attach(oldServer)
	first := s.Stats().Session
	require.NotNil(t, first)

	for i := 0; i < 3; i++ {
		s.queue <- control.Command{X: i + 1}
	}

	newServer, newClient := net.Pipe()
	s.attach(newServer)
	t.Cleanup(func() {
		newClient.Close()
		s.wg.Wait()
	})

	assert.Empty(t, s.queue)
	st := s.Stats()
	assert.Equal(t, uint64(3), st.Dropped)
	assert.Equal(t, uint64(2), st.Accepts)
	require.NotNil(t, st.Session)
	assert.NotEqual(t, first.ID, st.Session.ID)
}

func TestCommandServer_DrainQueue(t *testing.T) {
	s := NewCommandServer(CommandConfig{QueueSize: 4})
	assert.Equal(t, 0, s.drainQueue())
	s.queue <- control.Command{X: 1}
	s.queue <- control.Command{Y: 1}
	assert.Equal(t, 2, s.drainQueue())
	assert.Empty(t, s.queue)
}

func TestCommandServer_StopIsIdempotentAndRestartable(t *testing.T) {
	rec := &hookRecorder{}
	s := NewCommandServer(CommandConfig{ListenAddr: "127.0.0.1:0", Hooks: rec.hooks()})
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotNil(t, addr)

	// Start on a running server is a no-op
	require.NoError(t, s.Start())
	assert.Equal(t, addr.String(), s.Addr().String())

	conn := dialServer(t, addr)
	require.Eventually(t, s.Connected, waitFor, tick)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop did not unblock accept")
	}
	s.Stop()

	assert.Equal(t, StateIdle, s.Stats().State)
	assert.Nil(t, s.Addr())
	assert.False(t, s.Connected())

	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)

	_, reasons := rec.snapshot()
	require.NotEmpty(t, reasons)
	assert.ErrorIs(t, reasons[len(reasons)-1], ErrServerStopped)

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, StateListening, s.Stats().State)
}

func TestCommandServer_BindFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	s := NewCommandServer(CommandConfig{ListenAddr: lis.Addr().String()})
	err = s.Start()
	require.Error(t, err)
	assert.Equal(t, StateIdle, s.Stats().State)
	s.Stop()
}

type failConn struct {
	net.Conn
	closed bool
}

func (c *failConn) Write([]byte) (int, error)        { return 0, errors.New("broken pipe") }
func (c *failConn) SetWriteDeadline(time.Time) error { return nil }
func (c *failConn) RemoteAddr() net.Addr             { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *failConn) Close() error {
	c.closed = true
	return nil
}

func TestCommandServer_WriteFailureClearsClient(t *testing.T) {
	s := startCommandServer(t, CommandConfig{})
	conn := dialServer(t, s.Addr())
	require.Eventually(t, s.Connected, waitFor, tick)

	broken := &failConn{}
	s.mu.Lock()
	orig := s.conn
	s.conn = broken
	s.mu.Unlock()
	orig.Close()

	s.write(control.Command{X: 1, Y: 1})

	assert.True(t, broken.closed)
	assert.False(t, s.Connected())
	assert.Equal(t, uint64(1), s.Stats().WriteErrors)
	assert.Equal(t, StateListening, s.Stats().State)

	// later sends are silent no-ops
	s.Send(control.Command{X: 2, Y: 2})
	assert.Zero(t, s.Stats().Sent)
	conn.Close()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(9).String())

	text, err := StateConnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(text))
}
