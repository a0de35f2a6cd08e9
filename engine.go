package gridledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/etnz/gridledger/exchange"
	"golang.org/x/sync/errgroup"
)

// parallelPairs is the number of pairs synced or reconciled at the same time.
const parallelPairs = 4

// Engine holds the books of several pairs. Pairs are independent from each
// other and can be processed in parallel.
type Engine struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewEngine creates an engine with an empty book per pair configuration.
func NewEngine(cfgs ...PairConfig) (*Engine, error) {
	e := &Engine{books: make(map[string]*Book)}
	for _, cfg := range cfgs {
		b, err := NewBook(cfg)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", cfg.Pair, err)
		}
		if err := e.Add(b); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Add registers a book.
func (e *Engine) Add(b *Book) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.books[b.Pair()]; exists {
		return fmt.Errorf("pair %q already registered", b.Pair())
	}
	e.books[b.Pair()] = b
	return nil
}

// Book returns the book of a pair.
func (e *Engine) Book(pair string) (*Book, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPair, pair)
	}
	return b, nil
}

// Pairs returns the registered pairs, sorted.
func (e *Engine) Pairs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.books))
}

// ProcessFills records exchange trades in their pair book.
//
// A trade that fails does not stop the others: all the errors are returned
// joined.
func (e *Engine) ProcessFills(trades []exchange.Trade) error {
	var errs []error
	for _, t := range trades {
		b, err := e.Book(t.Pair)
		if err == nil {
			err = b.Process(t)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("trade %q: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Sync fetches the trades of every pair since its book cursor and records
// them. Pairs are synced in parallel, a pair that fails does not stop the
// others.
func (e *Engine) Sync(ctx context.Context, src exchange.TradeSource, backoff exchange.Backoff) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(parallelPairs)
	for _, pair := range e.Pairs() {
		b, _ := e.Book(pair)
		g.Go(func() error {
			err := e.sync(ctx, b, src, backoff)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (e *Engine) sync(ctx context.Context, b *Book, src exchange.TradeSource, backoff exchange.Backoff) error {
	pair, cursor := b.Pair(), b.Cursor()
	trades, err := exchange.Retry(ctx, backoff, func(ctx context.Context) ([]exchange.Trade, error) {
		return src.FetchTrades(ctx, pair, cursor)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", pair, err)
	}
	var errs []error
	for _, t := range trades {
		if t.Pair == "" {
			t.Pair = pair
		}
		if err := b.Process(t); err != nil {
			errs = append(errs, fmt.Errorf("trade %q: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ReconcileAll reconciles every pair in parallel and returns the reports by
// pair. A pair that fails to reconcile does not abort the others.
func (e *Engine) ReconcileAll(ctx context.Context, r *Reconciler) (map[string]*Report, error) {
	var (
		mu      sync.Mutex
		reports = make(map[string]*Report)
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(parallelPairs)
	for _, pair := range e.Pairs() {
		b, _ := e.Book(pair)
		g.Go(func() error {
			rep, err := r.Reconcile(ctx, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			reports[pair] = rep
			return nil
		})
	}
	g.Wait()
	return reports, errors.Join(errs...)
}
