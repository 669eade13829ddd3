package index

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

type entry struct {
	vector []float32
	meta   Metadata
}

// Memory is a brute-force cosine index kept in process memory.
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]entry
}

func NewMemory() *Memory {
	return &Memory{namespaces: make(map[string]map[string]entry)}
}

func (m *Memory) Upsert(_ context.Context, namespace, id string, vector []float32, meta Metadata) error {
	if len(vector) == 0 {
		return fmt.Errorf("upsert %s: empty vector", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]entry)
		m.namespaces[namespace] = ns
	}

	if existing, ok := ns[id]; ok && len(existing.vector) != len(vector) {
		return fmt.Errorf("upsert %s: dimension %d does not match stored %d", id, len(vector), len(existing.vector))
	}

	ns[id] = entry{vector: slices.Clone(vector), meta: meta}
	return nil
}

func (m *Memory) Query(_ context.Context, namespace string, vector []float32, filter Filter, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Candidate
	for id, e := range m.namespaces[namespace] {
		if !filter.matches(e.meta) || len(e.vector) != len(vector) {
			continue
		}
		out = append(out, Candidate{ID: id, Score: cosine(vector, e.vector), Metadata: e.meta})
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return compareIDs(a.ID, b.ID)
		}
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
