/*
dispatcher.go - Single-writer queue for ledger proposals

PURPOSE:
  Proposals arrive from any goroutine (local UI, remote carts). Only the
  dispatcher goroutine applies them, one at a time, so mutations never
  interleave and every proposal sees the stock left by the one before.

FLOW:
  Submit (caller goroutine)
    1. Sales proposals are checked against the current stock snapshot;
       a shortfall is returned to the caller right away
    2. A uuid is assigned and the proposal is queued
  run (dispatcher goroutine)
    3. The proposal is applied; the ledger checks stock again
    4. Rejections at this point are logged; the submitter was already
       told "queued"

STOP:
  Stop returns once the loop has exited. Proposals still queued are not
  applied.

USAGE:
  d := app.NewDispatcher(svc, app.WithQueueSize(64))
  d.Start()
  id, err := d.Submit(app.Proposal{Source: "remote", Kind: ledger.KindSales, Items: items})
  ...
  d.Stop()
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/warp/retail-ledger/ledger"
)

var (
	// ErrQueueFull is returned by Submit when the buffer is full.
	ErrQueueFull = errors.New("proposal queue is full")

	// ErrDispatcherStopped is returned by Submit after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

const DefaultQueueSize = 64

// Proposal is a requested mutation waiting to be applied.
type Proposal struct {
	ID          string
	Source      string
	Kind        ledger.Kind
	Items       []ItemRequest
	RefFilename string // corrections only
	SubmittedAt time.Time
}

// Outcome is the result of applying one proposal.
type Outcome struct {
	Proposal Proposal
	Tx       ledger.Transaction
	Err      error
}

// Applied reports whether the proposal made it into the log. A persist
// failure still counts: the entry is in memory.
func (o Outcome) Applied() bool {
	return o.Err == nil || errors.Is(o.Err, ledger.ErrPersist)
}

// SourceCounts are per-source proposal counters.
type SourceCounts struct {
	Submitted int
	Applied   int
	Rejected  int
}

// ApplyFunc applies one proposal to the ledger.
type ApplyFunc func(ctx context.Context, p Proposal) (ledger.Transaction, error)

type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.size = n
		}
	}
}

func WithDispatcherLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// WithApplyFunc replaces the default Service-backed apply.
func WithApplyFunc(f ApplyFunc) DispatcherOption {
	return func(d *Dispatcher) { d.apply = f }
}

// WithOutcomeHook is called on the dispatcher goroutine after each proposal.
func WithOutcomeHook(f func(Outcome)) DispatcherOption {
	return func(d *Dispatcher) { d.hook = f }
}

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	svc   *Service
	apply ApplyFunc
	hook  func(Outcome)
	log   *log.Logger
	size  int

	queue chan Proposal
	stop  chan struct{}
	wg    sync.WaitGroup
	mu    sync.Mutex

	started bool
	stopped bool

	countsMu sync.Mutex
	counts   map[string]*SourceCounts
}

func NewDispatcher(svc *Service, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:    svc,
		log:    log.Default(),
		size:   DefaultQueueSize,
		stop:   make(chan struct{}),
		counts: make(map[string]*SourceCounts),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.apply == nil {
		d.apply = d.applyViaService
	}
	d.queue = make(chan Proposal, d.size)
	return d
}

// Start launches the dispatcher goroutine. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()

	d.log.Info("dispatcher started", "queue", d.size)
}

// Stop ends the loop and waits for the proposal in flight, if any.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	close(d.stop)
	d.wg.Wait()
	d.log.Info("dispatcher stopped", "dropped", len(d.queue))
}

// Submit validates and queues p, returning the proposal id.
func (d *Dispatcher) Submit(p Proposal) (string, error) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return "", ErrDispatcherStopped
	}

	if p.Source == "" {
		p.Source = "local"
	}
	if p.Kind == ledger.KindSales {
		if err := d.svc.ValidateSalesRequest(p.Items); err != nil {
			d.count(p.Source, func(c *SourceCounts) { c.Rejected++ })
			return "", err
		}
	}

	p.ID = uuid.NewString()
	p.SubmittedAt = time.Now()

	select {
	case d.queue <- p:
		d.count(p.Source, func(c *SourceCounts) { c.Submitted++ })
		d.log.Debug("proposal queued", "id", p.ID, "source", p.Source, "kind", p.Kind)
		return p.ID, nil
	default:
		d.count(p.Source, func(c *SourceCounts) { c.Rejected++ })
		return "", ErrQueueFull
	}
}

// Pending returns the number of queued proposals.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Counts returns a copy of the per-source counters.
func (d *Dispatcher) Counts() map[string]SourceCounts {
	d.countsMu.Lock()
	defer d.countsMu.Unlock()
	out := make(map[string]SourceCounts, len(d.counts))
	for k, v := range d.counts {
		out[k] = *v
	}
	return out
}

func (d *Dispatcher) count(source string, f func(*SourceCounts)) {
	d.countsMu.Lock()
	defer d.countsMu.Unlock()
	c, ok := d.counts[source]
	if !ok {
		c = &SourceCounts{}
		d.counts[source] = c
	}
	f(c)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case p := <-d.queue:
			d.process(p)
		}
	}
}

func (d *Dispatcher) process(p Proposal) {
	tx, err := d.apply(context.Background(), p)
	out := Outcome{Proposal: p, Tx: tx, Err: err}

	if out.Applied() {
		d.count(p.Source, func(c *SourceCounts) { c.Applied++ })
		if err != nil {
			d.log.Error("proposal applied but not persisted", "id", p.ID, "error", err)
		}
	} else {
		d.count(p.Source, func(c *SourceCounts) { c.Rejected++ })
		d.log.Warn("proposal rejected", "id", p.ID, "source", p.Source, "kind", p.Kind, "error", err)
	}

	if d.hook != nil {
		d.hook(out)
	}
}

func (d *Dispatcher) applyViaService(ctx context.Context, p Proposal) (ledger.Transaction, error) {
	switch p.Kind {
	case ledger.KindSales:
		tx, err := d.svc.Checkout(ctx, p.Items)
		if err != nil && !errors.Is(err, ledger.ErrPersist) {
			return nil, err
		}
		return tx, err
	case ledger.KindInventory:
		tx, err := d.svc.Restock(ctx, p.Items)
		if err != nil && !errors.Is(err, ledger.ErrPersist) {
			return nil, err
		}
		return tx, err
	case ledger.KindCorrection:
		tx, err := d.svc.Correct(ctx, p.RefFilename, p.Items)
		if err != nil && !errors.Is(err, ledger.ErrPersist) {
			return nil, err
		}
		return tx, err
	default:
		return nil, fmt.Errorf("unknown proposal kind %q", p.Kind)
	}
}
