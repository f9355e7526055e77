package core

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// Sink collects delivered packets as trace records, in arrival order.
// Records are never mutated once appended.
type Sink struct {
	mu      sync.RWMutex
	records []model.TraceRecord
	stats   map[model.FlowID]*model.FlowStats

	subs    []sinkSubscriber
	nextSub uint64
}

type sinkSubscriber struct {
	id uint64
	fn func(model.TraceRecord)
}

// NewSink constructs an empty sink.
func NewSink() *Sink {
	return &Sink{stats: make(map[model.FlowID]*model.FlowStats)}
}

// Deliver appends a record and calls every subscriber with it.
func (s *Sink) Deliver(rec model.TraceRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	st := s.statsLocked(rec.FlowID)
	st.RxPackets++
	st.RxBytes += int64(rec.PacketSize)
	subs := append([]sinkSubscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(rec)
	}
}

// noteTx accounts one emitted packet.
func (s *Sink) noteTx(rec model.TraceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsLocked(rec.FlowID)
	if st.TxPackets == 0 {
		st.FirstTx = rec.Time
	}
	st.TxPackets++
	st.TxBytes += int64(rec.PacketSize)
	st.LastTx = rec.Time
}

// noteSuspension accounts a flow that stopped because its terminal had no
// serving cell.
func (s *Sink) noteSuspension(id model.FlowID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsLocked(id).Suspensions++
}

// registerFlow makes the flow appear in FlowStats even if it never emits.
func (s *Sink) registerFlow(id model.FlowID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsLocked(id)
}

func (s *Sink) statsLocked(id model.FlowID) *model.FlowStats {
	st, ok := s.stats[id]
	if !ok {
		st = &model.FlowStats{FlowID: id}
		s.stats[id] = st
	}
	return st
}

// Records returns a copy of every record so far.
func (s *Sink) Records() []model.TraceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TraceRecord(nil), s.records...)
}

// Len returns the number of records.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Replay calls fn for each record in order. Returning false stops early.
func (s *Sink) Replay(fn func(model.TraceRecord) bool) {
	for _, rec := range s.Records() {
		if !fn(rec) {
			return
		}
	}
}

// Subscribe registers fn for every record delivered from now on. It
// returns an unsubscribe function.
func (s *Sink) Subscribe(fn func(model.TraceRecord)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, sinkSubscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// FlowStats returns per-flow counters sorted by flow id.
func (s *Sink) FlowStats() []model.FlowStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.FlowStats, 0, len(s.stats))
	for _, st := range s.stats {
		res = append(res, *st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].FlowID < res[j].FlowID })
	return res
}
