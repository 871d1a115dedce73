package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Memory is an in-process Store with the same semantics as the Firebase backend.
type Memory struct {
	mu      sync.RWMutex
	root    map[string]any
	offline atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{root: map[string]any{}}
}

// SetUnavailable makes every following call fail with ErrUnavailable until reset.
func (m *Memory) SetUnavailable(down bool) {
	m.offline.Store(down)
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if m.offline.Load() {
		return fmt.Errorf("%w: memory store offline", ErrUnavailable)
	}
	return nil
}

func (m *Memory) withRead(ctx context.Context, fn func() error) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn()
}

func (m *Memory) withWrite(ctx context.Context, fn func() error) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

func (m *Memory) Get(ctx context.Context, path string, dst any) (bool, error) {
	var found bool
	err := m.withRead(ctx, func() error {
		node := m.lookup(Segments(path))
		if node == nil {
			return nil
		}
		found = true
		return Decode(node, dst)
	})
	return found, err
}

func (m *Memory) Set(ctx context.Context, path string, v any) error {
	node, err := Normalize(v)
	if err != nil {
		return err
	}
	return m.withWrite(ctx, func() error {
		m.put(Segments(path), node)
		return nil
	})
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		node, err := Normalize(v)
		if err != nil {
			return err
		}
		normalized[k] = node
	}
	return m.withWrite(ctx, func() error {
		segs := Segments(path)
		for k, v := range normalized {
			m.put(append(append([]string{}, segs...), k), v)
		}
		return nil
	})
}

func (m *Memory) Push(ctx context.Context, path string, v any) (string, error) {
	node, err := Normalize(v)
	if err != nil {
		return "", err
	}
	key, err := NewPushKey()
	if err != nil {
		return "", err
	}
	err = m.withWrite(ctx, func() error {
		m.put(append(Segments(path), key), node)
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.withWrite(ctx, func() error {
		m.put(Segments(path), nil)
		return nil
	})
}

func (m *Memory) GetWithETag(ctx context.Context, path string, dst any) (string, bool, error) {
	etag := NullETag
	var found bool
	err := m.withRead(ctx, func() error {
		node := m.lookup(Segments(path))
		if node == nil {
			return nil
		}
		found = true
		var err error
		if etag, err = ETagOf(node); err != nil {
			return err
		}
		return Decode(node, dst)
	})
	return etag, found, err
}

func (m *Memory) SetIfMatch(ctx context.Context, path string, v any, etag string) error {
	node, err := Normalize(v)
	if err != nil {
		return err
	}
	return m.withWrite(ctx, func() error {
		segs := Segments(path)
		current := NullETag
		if existing := m.lookup(segs); existing != nil {
			if current, err = ETagOf(existing); err != nil {
				return err
			}
		}
		if current != etag {
			return ErrConflict
		}
		m.put(segs, node)
		return nil
	})
}

func (m *Memory) lookup(segs []string) any {
	var node any = m.root
	for _, s := range segs {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		if node, ok = obj[s]; !ok {
			return nil
		}
	}
	if obj, ok := node.(map[string]any); ok && len(obj) == 0 {
		return nil
	}
	return node
}

// put writes node at segs, creating parents; a nil node removes the path and
// prunes parents left empty.
func (m *Memory) put(segs []string, node any) {
	if len(segs) == 0 {
		if obj, ok := node.(map[string]any); ok {
			m.root = obj
		} else {
			m.root = map[string]any{}
		}
		return
	}
	parents := []map[string]any{m.root}
	cur := m.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			if node == nil {
				return
			}
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
		parents = append(parents, cur)
	}
	last := segs[len(segs)-1]
	if node != nil {
		cur[last] = node
		return
	}
	delete(cur, last)
	for i := len(parents) - 1; i > 0; i-- {
		if len(parents[i]) > 0 {
			break
		}
		delete(parents[i-1], segs[i-1])
	}
}

// Normalize converts v into the generic JSON tree stores keep. Numbers stay
// json.Number so int64 values survive.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw JSON into a generic tree.
func Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return node, nil
}

// Decode copies a generic tree into dst.
func Decode(node any, dst any) error {
	if dst == nil {
		return nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode node: %w", err)
	}
	return nil
}

// ETagOf hashes the canonical JSON encoding of a node.
func ETagOf(node any) (string, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// NewPushKey returns a time-ordered key, so push order is preserved by key order.
func NewPushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return id.String(), nil
}
