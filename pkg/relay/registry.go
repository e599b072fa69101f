// ABOUTME: Connection registry tracking every live peer and its role
// ABOUTME: Holds per-connection counters and the process-wide audio packet count
package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sendspin/micrelay/pkg/audio/decode"
	"github.com/Sendspin/micrelay/pkg/audio/encode"
	"github.com/Sendspin/micrelay/pkg/protocol"
	"github.com/google/uuid"
)

// ErrUnknownConn is returned for operations on a connection not in the registry
var ErrUnknownConn = errors.New("unknown connection")

// Role determines which frames a connection receives
type Role int

const (
	RoleUnclassified Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unclassified"
	}
}

// Conn is one registered peer
type Conn struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	transport Transport

	mu       sync.RWMutex
	role     Role
	explicit bool // role came from hello or device_info and is not revised by heuristics
	alive    bool
	name     string
	codec    string // downlink codec requested by a consumer
	device   *protocol.DeviceInfo

	bytesIn   atomic.Uint64
	packetsIn atomic.Uint64
	framesOut atomic.Uint64
	dropped   atomic.Uint64

	// adpcm is used only from this connection's read goroutine
	adpcm *decode.ADPCMDecoder

	// opus downlink state, written by any producer's goroutine
	opusMu   sync.Mutex
	opus     *encode.OpusEncoder
	opusRate int
	opusSeq  uint16
}

// NewConn wraps a transport in a new unclassified, alive connection
func NewConn(t Transport, remoteAddr, userAgent string) *Conn {
	return &Conn{
		ID:          uuid.New().String(),
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		transport:   t,
		alive:       true,
		codec:       "pcm",
	}
}

// Role returns the current role
func (c *Conn) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// classify assigns role and reports whether it changed. A heuristic
// guess never overrides a role set by an identification message.
func (c *Conn) classify(role Role, explicit bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.explicit && !explicit {
		return false
	}
	if explicit {
		c.explicit = true
	}
	if c.role == role {
		return false
	}
	c.role = role
	return true
}

// Alive reports whether a pong arrived since the last ping cycle
func (c *Conn) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *Conn) setAlive(alive bool) {
	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
}

// Name returns the name given in hello or device_info
func (c *Conn) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Codec returns the downlink codec for consumers
func (c *Conn) Codec() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codec
}

func (c *Conn) setCodec(codec string) {
	c.mu.Lock()
	c.codec = codec
	c.mu.Unlock()
}

// Device returns the last device_info announced on this connection
func (c *Conn) Device() *protocol.DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Stats is a snapshot of per-connection diagnostics counters
type Stats struct {
	BytesIn   uint64
	PacketsIn uint64
	FramesOut uint64
	Dropped   uint64
}

// Stats returns the connection counters
func (c *Conn) Stats() Stats {
	return Stats{
		BytesIn:   c.bytesIn.Load(),
		PacketsIn: c.packetsIn.Load(),
		FramesOut: c.framesOut.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// Counts is the aggregate connection summary
type Counts struct {
	Total        int
	Producers    int
	Consumers    int
	Unclassified int
}

// Registry tracks live connections. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	audioPackets atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Register adds a connection. Re-registering the same ID replaces it.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Unregister removes a connection and reports whether it was present
func (r *Registry) Unregister(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Get returns a registered connection
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// SetRole changes the role of a registered connection
func (r *Registry) SetRole(id string, role Role) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrUnknownConn
	}
	c.classify(role, true)
	return nil
}

// MarkAlive records a pong for the connection
func (r *Registry) MarkAlive(id string) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrUnknownConn
	}
	c.setAlive(true)
	return nil
}

// Snapshot returns the registered connections at this instant
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// ForEach runs action on every connection matching pred. It iterates a
// snapshot, so action may unregister connections.
func (r *Registry) ForEach(pred func(*Conn) bool, action func(*Conn)) {
	for _, c := range r.Snapshot() {
		if pred == nil || pred(c) {
			action(c)
		}
	}
}

// Counts returns the number of connections per role
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := Counts{Total: len(r.conns)}
	for _, c := range r.conns {
		switch c.Role() {
		case RoleProducer:
			counts.Producers++
		case RoleConsumer:
			counts.Consumers++
		default:
			counts.Unclassified++
		}
	}
	return counts
}

// RecordAudioPacket increments the cumulative audio packet count and
// returns the new value
func (r *Registry) RecordAudioPacket() uint64 {
	return r.audioPackets.Add(1)
}

// AudioPackets returns the cumulative audio packet count
func (r *Registry) AudioPackets() uint64 {
	return r.audioPackets.Load()
}

// Status builds the status broadcast from the current aggregate
func (r *Registry) Status() protocol.Status {
	counts := r.Counts()
	return protocol.NewStatus(counts.Total, counts.Producers, counts.Consumers, r.AudioPackets())
}

// IsProducer matches producer connections
func IsProducer(c *Conn) bool { return c.Role() == RoleProducer }

// IsConsumer matches consumer connections
func IsConsumer(c *Conn) bool { return c.Role() == RoleConsumer }
