package orderbook

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ivynet/dexcore/pkg/dex"
	"github.com/ivynet/dexcore/pkg/util"
)

// Registry owns one book per trading pair. It replaces ambient per-pair
// state: the matching engine receives a registry and never reaches for
// globals. Each book carries its own lock, so operations on different
// pairs never contend.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
	clock util.Clock
	log   *zap.Logger
}

func NewRegistry(clock util.Clock, log *zap.Logger) *Registry {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		books: make(map[string]*OrderBook),
		clock: clock,
		log:   log,
	}
}

// CreateBook registers an empty book for pair.
// Returns error if the pair is malformed or already registered.
func (r *Registry) CreateBook(pair string) (*OrderBook, error) {
	b, err := New(pair, r.clock)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.books[pair]; exists {
		return nil, fmt.Errorf("book for %s already registered", pair)
	}
	r.books[pair] = b
	r.log.Info("book_created", zap.String("pair", pair))
	return b, nil
}

// Get retrieves the book for pair.
func (r *Registry) Get(pair string) (*OrderBook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.books[pair]
	if !exists {
		return nil, fmt.Errorf("%w: %s", dex.ErrUnknownPair, pair)
	}
	return b, nil
}

// Exists checks if a pair has a registered book.
func (r *Registry) Exists(pair string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.books[pair]
	return exists
}

// Pairs returns all registered pair symbols.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([]string, 0, len(r.books))
	for p := range r.books {
		pairs = append(pairs, p)
	}
	return pairs
}

// Count returns the number of registered books.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

// TakeOffline stops a corrupted pair's book from serving further
// operations. The books of other pairs are unaffected.
func (r *Registry) TakeOffline(pair string) error {
	b, err := r.Get(pair)
	if err != nil {
		return err
	}
	b.SetOffline()
	r.log.Error("book_offline", zap.String("pair", pair))
	return nil
}
