package store

import (
	"sync"

	"github.com/thetooth/hopwatch/record"
)

// Memory keeps partitions in process, mostly useful for tests and dry runs.
type Memory struct {
	mu   sync.RWMutex
	data map[Partition][]record.Measurement
}

func NewMemory() *Memory {
	return &Memory{data: map[Partition][]record.Measurement{}}
}

func (s *Memory) Append(p Partition, recs []record.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p] = append(s.data[p], recs...)
	return nil
}

func (s *Memory) ReadAll(p Partition) ([]record.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.Measurement, len(s.data[p]))
	copy(out, s.data[p])
	return out, nil
}
