package core

import (
	"math/rand/v2"
	"sync"

	"github.com/signalsfoundry/cellular-simulator/model"
)

type linkKey struct {
	bs, ut model.NodeID
}

// RandomSource hands out reproducible uniform draws per link. Draw n for
// link (bs, ut) under seed s is a pure function of (s, bs, ut, n), so the
// value does not depend on how other links were queried in between.
type RandomSource struct {
	seed uint64

	mu     sync.Mutex
	counts map[linkKey]uint64
}

// NewRandomSource constructs a source for the given run seed.
func NewRandomSource(seed uint64) *RandomSource {
	return &RandomSource{
		seed:   seed,
		counts: make(map[linkKey]uint64),
	}
}

// Seed returns the run seed.
func (r *RandomSource) Seed() uint64 { return r.seed }

// Float64 returns the next draw in [0, 1) for the link between base station
// bs and terminal ut and advances that link's call counter.
func (r *RandomSource) Float64(bs, ut model.NodeID) float64 {
	key := linkKey{bs: bs, ut: ut}

	r.mu.Lock()
	n := r.counts[key]
	r.counts[key] = n + 1
	r.mu.Unlock()

	return drawAt(r.seed, key, n)
}

// Calls returns how many draws the link has consumed.
func (r *RandomSource) Calls(bs, ut model.NodeID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[linkKey{bs: bs, ut: ut}]
}

// Reset rewinds every link stream to its first draw.
func (r *RandomSource) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = make(map[linkKey]uint64)
}

func drawAt(seed uint64, key linkKey, n uint64) float64 {
	linkHash := splitmix64(uint64(uint32(key.bs))<<32 | uint64(uint32(key.ut)))
	return rand.New(rand.NewPCG(splitmix64(seed^linkHash), n)).Float64()
}

// splitmix64 is the finaliser from Steele et al., used to spread nearby
// integer keys across the PCG state space.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
