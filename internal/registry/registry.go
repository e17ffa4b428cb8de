// Package registry owns the shared peer map: lifetime counters, online
// state, and the bounded outbound mailboxes the broadcast path feeds.
package registry

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/raventid/go-pupa-server/internal/logging"
	"github.com/raventid/go-pupa-server/internal/metrics"
	"github.com/raventid/go-pupa-server/internal/pupa"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// DefaultMailboxSize is the per-peer outbound buffer in frames. Enqueues are
// non-blocking; the policy decides what happens when the buffer is full.
const DefaultMailboxSize = 10

// Client is the session-side handle of an attached peer: the mailbox its
// writer drains and a close signal.
type Client struct {
	Identity  uuid.UUID
	Out       chan pupa.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// PeerInfo is a read-only copy of one peer's record for the admin API.
type PeerInfo struct {
	Identity         uuid.UUID
	Online           bool
	Wins             uint32
	MessagesReceived uint32
	MessagesSent     uint32
}

// record is never deleted once created; counters survive reconnections.
type record struct {
	identity         uuid.UUID
	online           bool
	wins             uint32
	messagesReceived uint32
	messagesSent     uint32
	client           *Client
}

type Registry struct {
	mu          sync.Mutex
	peers       map[uuid.UUID]*record
	MailboxSize int
	Policy      BackpressurePolicy
}

// New creates a Registry with default settings.
func New() *Registry { return &Registry{peers: make(map[uuid.UUID]*record)} }

func (r *Registry) mailboxSize() int {
	if r.MailboxSize > 0 {
		return r.MailboxSize
	}
	return DefaultMailboxSize
}

// Attach brings identity online with a fresh mailbox and returns the client
// handle for the session. Counters of a returning identity are preserved; a
// still-attached prior session is closed and replaced.
func (r *Registry) Attach(identity uuid.UUID) *Client {
	c := &Client{
		Identity: identity,
		Out:      make(chan pupa.Frame, r.mailboxSize()),
		Closed:   make(chan struct{}),
	}
	r.mu.Lock()
	rec, ok := r.peers[identity]
	if !ok {
		rec = &record{identity: identity}
		r.peers[identity] = rec
	}
	prev := rec.client
	rec.client = c
	rec.online = true
	online := r.onlineLocked()
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	metrics.SetOnlinePeers(online)
	if online == 1 {
		logging.L().Info("peers_first_online")
	}
	return c
}

// Detach takes the peer offline if c is still its attached client; a stale
// detach after the identity reconnected is a no-op. Counters are preserved.
func (r *Registry) Detach(c *Client) {
	r.mu.Lock()
	rec, ok := r.peers[c.Identity]
	detached := ok && rec.client == c
	if detached {
		rec.online = false
		rec.client = nil
	}
	online := r.onlineLocked()
	r.mu.Unlock()
	c.Close()
	if !detached {
		return
	}
	metrics.SetOnlinePeers(online)
	if online == 0 {
		logging.L().Info("peers_last_offline")
	}
}

// CreditWin increments the wins counter for identity.
func (r *Registry) CreditWin(identity uuid.UUID) {
	r.mu.Lock()
	if rec, ok := r.peers[identity]; ok {
		rec.wins++
	}
	r.mu.Unlock()
	metrics.IncWins()
}

// Broadcast fans fr out to every online peer except the sender, crediting
// the sender's messages_sent and each recipient's messages_received. The
// recipient counter moves even when its full mailbox drops the frame; a
// stalled peer still "received" the broadcast as far as the stats go.
// Enqueues never block, so the registry lock stays bounded.
func (r *Registry) Broadcast(sender uuid.UUID, fr pupa.Frame) {
	var dropped, kicked []*Client
	r.mu.Lock()
	if rec, ok := r.peers[sender]; ok {
		rec.messagesSent++
	}
	fanout := 0
	for id, rec := range r.peers {
		if id == sender || !rec.online || rec.client == nil {
			continue
		}
		fanout++
		rec.messagesReceived++
		select {
		case rec.client.Out <- fr:
		default:
			if r.Policy == PolicyKick {
				kicked = append(kicked, rec.client)
			} else {
				dropped = append(dropped, rec.client)
			}
		}
	}
	r.mu.Unlock()
	metrics.SetBroadcastFanout(fanout)
	for range dropped {
		metrics.IncMailboxDrop()
	}
	for _, c := range kicked {
		metrics.IncMailboxKick()
		c.Close() // writer exits; the session detaches on disconnect
	}
}

// Deliver enqueues fr on target's mailbox if it is online. Used for the
// targeted Win path; it does not touch the broadcast counters. Reports
// whether the frame was enqueued.
func (r *Registry) Deliver(target uuid.UUID, fr pupa.Frame) bool {
	r.mu.Lock()
	rec, ok := r.peers[target]
	var c *Client
	if ok && rec.online {
		c = rec.client
	}
	r.mu.Unlock()
	if c == nil {
		return false
	}
	select {
	case c.Out <- fr:
		return true
	default:
		metrics.IncMailboxDrop()
		return false
	}
}

// SnapshotSorted copies every record ordered by (online ascending, wins
// ascending), ties broken by identity bytes for determinism. Offline and
// zero-win peers sort first; admin readers wanting winners first reverse.
func (r *Registry) SnapshotSorted() []PeerInfo {
	r.mu.Lock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, PeerInfo{
			Identity:         rec.identity,
			Online:           rec.online,
			Wins:             rec.wins,
			MessagesReceived: rec.messagesReceived,
			MessagesSent:     rec.messagesSent,
		})
	}
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return !out[i].Online
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins < out[j].Wins
		}
		return bytes.Compare(out[i].Identity[:], out[j].Identity[:]) < 0
	})
	return out
}

// Lookup returns a copy of one peer's record.
func (r *Registry) Lookup(identity uuid.UUID) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[identity]
	if !ok {
		return PeerInfo{}, false
	}
	return PeerInfo{
		Identity:         rec.identity,
		Online:           rec.online,
		Wins:             rec.wins,
		MessagesReceived: rec.messagesReceived,
		MessagesSent:     rec.messagesSent,
	}, true
}

// OnlineCount returns the number of online peers.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() int {
	n := 0
	for _, rec := range r.peers {
		if rec.online {
			n++
		}
	}
	return n
}
