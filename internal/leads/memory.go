package leads

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Iteration order is insertion order.
type Memory struct {
	mu     sync.Mutex
	order  []string
	items  map[string]*Item
	tpl    Template
	hasTpl bool
	closed bool
}

var _ Store = (*Memory)(nil)

func NewMemory(items ...Item) *Memory {
	m := &Memory{items: map[string]*Item{}}
	_ = m.Add(context.Background(), items...)
	return m
}

func (m *Memory) NextCandidate(ctx context.Context, skip func(id string) bool) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Item{}, false, ErrClosed
	}
	for _, id := range m.order {
		if it := m.items[id]; it.Status == StatusUnclaimed && !skipped(skip, id) {
			return *it, true, nil
		}
	}
	return Item{}, false, nil
}

func (m *Memory) Claim(ctx context.Context, id, worker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	if it.Status != StatusUnclaimed {
		return ErrClaimLost
	}
	it.Status = StatusClaimed
	it.ClaimedBy = worker
	it.ClaimedAt = time.Now()
	return nil
}

func (m *Memory) MarkSent(ctx context.Context, id, worker string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	it.Status = StatusSent
	it.SentAt = at
	it.SentBy = worker
	it.ClaimedBy = ""
	it.ClaimedAt = time.Time{}
	return nil
}

func (m *Memory) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.lookupLocked(id)
	if err != nil {
		return err
	}
	it.Status = StatusUnclaimed
	it.ClaimedBy = ""
	it.ClaimedAt = time.Time{}
	return nil
}

func (m *Memory) Template(ctx context.Context) (Template, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Template{}, false, ErrClosed
	}
	return m.tpl, m.hasTpl, nil
}

func (m *Memory) SetTemplate(ctx context.Context, tpl Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if tpl.UpdatedAt.IsZero() {
		tpl.UpdatedAt = time.Now()
	}
	m.tpl = tpl
	m.hasTpl = true
	return nil
}

func (m *Memory) Counts(ctx context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	if m.closed {
		return c, ErrClosed
	}
	for _, it := range m.items {
		c.add(it.Status)
	}
	return c, nil
}

func (m *Memory) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, it := range m.items {
		if it.Status == StatusClaimed && it.ClaimedAt.Before(olderThan) {
			it.Status = StatusUnclaimed
			it.ClaimedBy = ""
			it.ClaimedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (m *Memory) Add(ctx context.Context, items ...Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, in := range items {
		if cur, ok := m.items[in.ID]; ok {
			cur.Email = in.Email
			cur.DisplayName = in.DisplayName
			continue
		}
		it := in
		it.Status = normalizeStatus(string(in.Status))
		m.items[it.ID] = &it
		m.order = append(m.order, it.ID)
	}
	return nil
}

// Get returns a copy of one item.
func (m *Memory) Get(id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) lookupLocked(id string) (*Item, error) {
	if m.closed {
		return nil, ErrClosed
	}
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}
