// Package cart is the persisted shopping cart: the single source of truth for
// what the shopper intends to buy.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/macrobox/macrobox-cli/internal/logging"
	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/storage"
)

const persistTimeout = 2 * time.Second

// Listener observes cart mutations. It runs after the mutation is applied and
// persisted, outside the store lock.
type Listener func(prev, next Totals)

type Store struct {
	mu        sync.RWMutex
	lines     []model.CartLine
	seq       uint64
	kv        storage.KV
	log       *slog.Logger
	listeners []Listener

	// persistMu orders writes to kv; saved is the seq of the last snapshot
	// written, so an older snapshot never overwrites a newer one.
	persistMu sync.Mutex
	saved     uint64
}

// Open loads the cart from its storage slot. Missing or malformed data yields
// an empty cart; Open never fails.
func Open(ctx context.Context, kv storage.KV) *Store {
	s := &Store{kv: kv, log: logging.New("cart")}
	raw, err := kv.Get(ctx, storage.KeyCart)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s
	case err != nil:
		s.log.Warn("load cart failed, starting empty", "error", err)
		return s
	}
	var lines []model.CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		s.log.Warn("stored cart is malformed, starting empty", "error", err)
		return s
	}
	s.lines = Normalize(lines)
	return s
}

func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Add increments the line for item.ID, or appends a new line with quantity 1.
// The id is trimmed the way stored carts are; an item without one is ignored.
func (s *Store) Add(item model.Item) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		s.log.Warn("ignoring cart add without item id", "title", item.Title)
		return
	}
	s.mutate("add", func(lines []model.CartLine) []model.CartLine {
		for i := range lines {
			if lines[i].ItemID == item.ID {
				lines[i].Quantity++
				return lines
			}
		}
		return append(lines, model.CartLine{
			ItemID:       item.ID,
			Title:        item.Title,
			UnitPrice:    number(item.Price),
			ProteinGrams: number(item.Protein),
			Calories:     number(item.Calories),
			ImageURL:     item.ImageURL,
			Quantity:     1,
		})
	})
}

func (s *Store) Remove(itemID string) {
	s.mutate("remove", func(lines []model.CartLine) []model.CartLine {
		out := lines[:0]
		for _, l := range lines {
			if l.ItemID != itemID {
				out = append(out, l)
			}
		}
		return out
	})
}

func (s *Store) Increase(itemID string) {
	s.mutate("increase", func(lines []model.CartLine) []model.CartLine {
		for i := range lines {
			if lines[i].ItemID == itemID {
				lines[i].Quantity++
			}
		}
		return lines
	})
}

// Decrease lowers the quantity by one; a line that would reach zero is removed.
func (s *Store) Decrease(itemID string) {
	s.mutate("decrease", func(lines []model.CartLine) []model.CartLine {
		out := lines[:0]
		for _, l := range lines {
			if l.ItemID == itemID {
				l.Quantity--
			}
			if l.Quantity > 0 {
				out = append(out, l)
			}
		}
		return out
	})
}

func (s *Store) Clear() {
	s.mutate("clear", func([]model.CartLine) []model.CartLine {
		return nil
	})
}

// Replace swaps the whole line list, normalizing it first.
func (s *Store) Replace(lines []model.CartLine) {
	s.mutate("replace", func([]model.CartLine) []model.CartLine {
		return Normalize(lines)
	})
}

// Lines returns a copy of the current lines.
func (s *Store) Lines() []model.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneLines(s.lines)
}

func (s *Store) Line(itemID string) (model.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return model.CartLine{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// Count is the sum of all line quantities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

func (s *Store) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ComputeTotals(s.lines)
}

func (s *Store) mutate(op string, fn func([]model.CartLine) []model.CartLine) {
	s.mu.Lock()
	prev := ComputeTotals(s.lines)
	s.lines = fn(cloneLines(s.lines))
	s.seq++
	seq := s.seq
	next := ComputeTotals(s.lines)
	snapshot := cloneLines(s.lines)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.persist(op, seq, snapshot)
	for _, fn := range listeners {
		fn(prev, next)
	}
}

// persist is best effort: a failed write is logged and the in-memory cart
// stays authoritative.
func (s *Store) persist(op string, seq uint64, lines []model.CartLine) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if seq <= s.saved {
		s.log.Debug("skipping superseded cart snapshot", "op", op, "seq", seq)
		return
	}
	s.saved = seq
	if lines == nil {
		lines = []model.CartLine{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		s.log.Error("marshal cart failed", "op", op, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, storage.KeyCart, raw); err != nil {
		s.log.Error("persist cart failed", "op", op, "error", err)
		return
	}
	s.log.Debug("cart persisted", "op", op, "lines", len(lines))
}

// Normalize enforces the line invariants on data from outside the store:
// blank ids and non-positive quantities are dropped, duplicate ids are merged
// and numeric fields are coerced to be non-negative.
func Normalize(lines []model.CartLine) []model.CartLine {
	out := make([]model.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		l.ItemID = strings.TrimSpace(l.ItemID)
		if l.ItemID == "" || l.Quantity <= 0 {
			continue
		}
		if i, ok := index[l.ItemID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		l.UnitPrice = number(l.UnitPrice)
		l.ProteinGrams = number(l.ProteinGrams)
		l.Calories = number(l.Calories)
		index[l.ItemID] = len(out)
		out = append(out, l)
	}
	return out
}

func number(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func cloneLines(lines []model.CartLine) []model.CartLine {
	if lines == nil {
		return nil
	}
	out := make([]model.CartLine, len(lines))
	copy(out, lines)
	return out
}
