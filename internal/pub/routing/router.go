package routing

import (
	"math/big"
	"sync/atomic"

	"github.com/minio/sha256-simd"

	"routedpub/internal/pub"
)

// Router assigns a message to a partition index in [0, partitionCount).
type Router interface {
	Route(msg pub.Message) int
}

// Peeker is implemented by routers whose Route has side effects. Peek
// returns the partition Route would pick next without consuming it.
type Peeker interface {
	Peek(msg pub.Message) int
}

// RouterFactory builds a Router for a fixed partition count.
type RouterFactory func(partitionCount int) Router

// KeyRouter maps an ordering key to a partition by interpreting the SHA-256
// digest of the key as a big-endian integer modulo the partition count.
// The mapping is stable across processes for the same partition count.
type KeyRouter struct {
	partitions *big.Int
}

func NewKeyRouter(partitionCount int) *KeyRouter {
	return &KeyRouter{partitions: big.NewInt(int64(partitionCount))}
}

func (r *KeyRouter) Route(msg pub.Message) int {
	sum := sha256.Sum256(msg.Key)
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, r.partitions).Int64())
}

// RoundRobinRouter cycles through partitions in order, beginning at a fixed
// start index.
type RoundRobinRouter struct {
	count uint64
	next  atomic.Uint64
}

func NewRoundRobinRouter(partitionCount, start int) *RoundRobinRouter {
	r := &RoundRobinRouter{count: uint64(partitionCount)}
	r.next.Store(uint64(start))
	return r
}

func (r *RoundRobinRouter) Route(pub.Message) int {
	return int((r.next.Add(1) - 1) % r.count)
}

func (r *RoundRobinRouter) Peek(pub.Message) int {
	return int(r.next.Load() % r.count)
}

// DefaultRouter sends keyed messages through a KeyRouter and keyless ones
// through a pluggable policy, round-robin from partition 0 unless configured.
type DefaultRouter struct {
	keyed   Router
	keyless Router
}

func NewDefaultRouter(partitionCount int, keyless RouterFactory) *DefaultRouter {
	if keyless == nil {
		keyless = RoundRobin(0)
	}

	return &DefaultRouter{
		keyed:   NewKeyRouter(partitionCount),
		keyless: keyless(partitionCount),
	}
}

func (r *DefaultRouter) Route(msg pub.Message) int {
	if msg.HasKey() {
		return r.keyed.Route(msg)
	}

	return r.keyless.Route(msg)
}

func (r *DefaultRouter) Peek(msg pub.Message) int {
	if msg.HasKey() {
		return r.keyed.Route(msg)
	}

	return peek(r.keyless, msg)
}

// peek asks r for the next partition of msg without advancing it where r
// supports that.
func peek(r Router, msg pub.Message) int {
	if pk, ok := r.(Peeker); ok {
		return pk.Peek(msg)
	}

	return r.Route(msg)
}

// RoundRobin returns a factory for round-robin routers starting at start.
func RoundRobin(start int) RouterFactory {
	return func(partitionCount int) Router {
		return NewRoundRobinRouter(partitionCount, start)
	}
}

// ByKey returns a factory for KeyRouters. Keyless messages hash the empty key
// and therefore all land on one partition.
func ByKey() RouterFactory {
	return func(partitionCount int) Router {
		return NewKeyRouter(partitionCount)
	}
}
