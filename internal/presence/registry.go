package presence

import (
	"hash/fnv"
	"sync"

	"github.com/devhub-community/reputation-engine/internal/metrics"
)

// DefaultShards is used when NewRegistry is given a non-positive shard count.
const DefaultShards = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*Channel
}

// Registry maps a user to at most one live channel. Users are spread over
// independently locked shards; all operations on one user go through one shard.
type Registry struct {
	shards []*shard
}

// NewRegistry creates an empty registry.
func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{shards: make([]*shard, shards)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*Channel)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register makes ch the current channel of its user and returns the channel it
// replaced, if any. The caller decides whether to close the replaced channel.
func (r *Registry) Register(ch *Channel) *Channel {
	s := r.shardFor(ch.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.entries[ch.UserID()]
	s.entries[ch.UserID()] = ch
	if prev == nil {
		metrics.IncPresenceConnections()
	}
	return prev
}

// Unregister removes ch if it is still the current channel of its user.
// A stale handle from a replaced connection is ignored.
func (r *Registry) Unregister(ch *Channel) bool {
	s := r.shardFor(ch.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[ch.UserID()] != ch {
		return false
	}
	delete(s.entries, ch.UserID())
	metrics.DecPresenceConnections()
	return true
}

// Lookup returns the current channel of userID, or nil.
func (r *Registry) Lookup(userID string) *Channel {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[userID]
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// CloseAll closes every registered channel. Entries are removed by their
// transports as they observe the close.
func (r *Registry) CloseAll() {
	for _, s := range r.shards {
		s.mu.Lock()
		for _, ch := range s.entries {
			ch.Close()
		}
		s.mu.Unlock()
	}
}
