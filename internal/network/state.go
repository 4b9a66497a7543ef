package network

import (
	"errors"
	"time"
)

// State is the lifecycle of a transport.
type State int32

const (
	// StateIdle means the transport is not bound.
	StateIdle State = iota
	// StateListening means the transport is bound with no client attached.
	StateListening
	// StateConnected means a client is attached.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session describes one attached client.
type Session struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Connected  time.Time `json:"connected"`
}

// Hooks observe client attach and detach. Callbacks run on transport
// goroutines and must not block.
type Hooks struct {
	OnConnect    func(s Session)
	OnDisconnect func(s Session, reason error)
}

func (h Hooks) connected(s Session) {
	if h.OnConnect != nil {
		h.OnConnect(s)
	}
}

func (h Hooks) disconnected(s Session, reason error) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(s, reason)
	}
}

var (
	// ErrSuperseded is the disconnect reason when a newer client replaces
	// the current one.
	ErrSuperseded = errors.New("superseded by new client")
	// ErrServerStopped is the disconnect reason when Stop closes the client.
	ErrServerStopped = errors.New("server stopped")
)
