package rewrite

import (
	"strings"
	"sync"
)

// KeyPool hands out credentials round-robin. The zero value is an empty pool.
type KeyPool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewKeyPool drops blank and duplicate keys, keeping the first occurrence order.
func NewKeyPool(keys ...string) *KeyPool {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return &KeyPool{keys: out}
}

func (p *KeyPool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the key under the cursor and advances it. ok is false for an
// empty pool.
func (p *KeyPool) Next() (key string, idx int, ok bool) {
	if p == nil {
		return "", 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", 0, false
	}
	idx = p.cursor
	p.cursor = (p.cursor + 1) % len(p.keys)
	return p.keys[idx], idx, true
}

// Cursor is the index Next will return.
func (p *KeyPool) Cursor() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
