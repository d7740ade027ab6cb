package plant

import (
	"context"
	"sort"
	"sync"
)

// StaticRepository keeps the latest readings in memory. It is used
// when no database is configured.
type StaticRepository struct {
	mu     sync.RWMutex
	latest map[int]Reading
}

// NewStaticRepository returns repository holding rs. When several readings
// share a device id, the most recent one wins.
func NewStaticRepository(rs ...Reading) *StaticRepository {
	s := &StaticRepository{latest: make(map[int]Reading, len(rs))}
	for _, r := range rs {
		s.Put(r)
	}
	return s
}

// Put records r unless a newer reading of the same device is known.
func (s *StaticRepository) Put(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[r.DeviceID]; ok && prev.CapturedAt.After(r.CapturedAt) {
		return
	}
	s.latest[r.DeviceID] = r
}

// FetchLatest implements Repository.
func (s *StaticRepository) FetchLatest(ctx context.Context, deviceID int) (*Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[deviceID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// FetchAllLatest implements Repository.
func (s *StaticRepository) FetchAllLatest(ctx context.Context) ([]Reading, error) {
	s.mu.RLock()
	rs := make([]Reading, 0, len(s.latest))
	for _, r := range s.latest {
		rs = append(rs, r)
	}
	s.mu.RUnlock()

	sort.Slice(rs, func(i, j int) bool { return rs[i].DeviceID < rs[j].DeviceID })
	return rs, nil
}
