// Package relay forwards command lines from the phone's command port to the
// actuator's serial port.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tracklink/internal/control"
	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/network"
)

// Config configures a Relay.
type Config struct {
	// Addr is the command server, e.g. "192.168.1.20:6000"
	Addr string
	Open Opener

	// MinBackoff and MaxBackoff bound the reconnect delay
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Relay reads command lines from the command server and writes each valid
// line to the actuator port. It reconnects whenever the server goes away.
type Relay struct {
	cfg    Config
	errLog *monitoring.Throttle

	mu   sync.Mutex
	port Port
	last control.Command

	connects   atomic.Uint64
	forwarded  atomic.Uint64
	malformed  atomic.Uint64
	portErrors atomic.Uint64
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Connects   uint64          `json:"connects"`
	Forwarded  uint64          `json:"forwarded"`
	Malformed  uint64          `json:"malformed"`
	PortErrors uint64          `json:"port_errors"`
	Last       control.Command `json:"last"`
}

// New creates a relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Addr == "" {
		return nil, errors.New("relay: command server address is required")
	}
	if cfg.Open == nil {
		return nil, errors.New("relay: port opener is required")
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Relay{
		cfg:    cfg,
		errLog: monitoring.NewThrottle(5*time.Second, 1),
	}, nil
}

// Run connects and forwards until ctx is done. The port is opened up front
// so a missing device fails fast.
func (r *Relay) Run(ctx context.Context) error {
	if _, err := r.ensurePort(); err != nil {
		return err
	}
	defer r.closePort()

	for {
		conn, err := network.Dial(ctx, r.cfg.Addr, r.cfg.MinBackoff, r.cfg.MaxBackoff)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.connects.Add(1)
		monitoring.Logf("[Relay] Connected to %s", r.cfg.Addr)

		err = r.forward(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		monitoring.Logf("[Relay] Connection to %s lost: %v; reconnecting", r.cfg.Addr, err)
	}
}

// forward copies lines from conn until it fails or ctx is done.
func (r *Relay) forward(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		r.HandleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("server closed the connection")
}

// HandleLine validates one line and forwards it. Malformed lines are
// dropped.
func (r *Relay) HandleLine(line string) {
	cmd, err := control.ParseCommand(line)
	if err != nil {
		r.malformed.Add(1)
		r.errLog.Logf("[Relay] Dropping line: %v", err)
		return
	}

	port, err := r.ensurePort()
	if err != nil {
		r.portErrors.Add(1)
		r.errLog.Logf("[Relay] Port unavailable: %v", err)
		return
	}
	if _, err := port.Write(cmd.Line()); err != nil {
		r.portErrors.Add(1)
		r.errLog.Logf("[Relay] Port write failed: %v", err)
		r.closePort()
		return
	}

	r.mu.Lock()
	r.last = cmd
	r.mu.Unlock()
	r.forwarded.Add(1)
}

func (r *Relay) ensurePort() (Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port != nil {
		return r.port, nil
	}
	port, err := r.cfg.Open()
	if err != nil {
		return nil, err
	}
	r.port = port
	return port, nil
}

func (r *Relay) closePort() {
	r.mu.Lock()
	port := r.port
	r.port = nil
	r.mu.Unlock()
	if port != nil {
		port.Close()
	}
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	return Stats{
		Connects:   r.connects.Load(),
		Forwarded:  r.forwarded.Load(),
		Malformed:  r.malformed.Load(),
		PortErrors: r.portErrors.Load(),
		Last:       last,
	}
}
