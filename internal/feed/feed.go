// Package feed keeps an always-current list of reservations by holding one
// live subscription against the store.
package feed

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
)

const loadFailedMessage = "could not load reservations"

// Source pushes the full collection on subscribe and after every change.
type Source interface {
	Watch(ctx context.Context, deliver func([]record.Raw)) error
}

type Phase int

const (
	Loading Phase = iota
	Ready
	Failed
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	}
	return "failed"
}

// State is what the admin view renders.
type State struct {
	Reservations []domain.Booking `json:"reservations"`
	Loading      bool             `json:"loading"`
	Error        *string          `json:"error"`
}

func (s State) Phase() Phase {
	switch {
	case s.Error != nil:
		return Failed
	case s.Loading:
		return Loading
	}
	return Ready
}

type Feed struct {
	src    Source
	logger observability.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[int]chan State
	nextID int
}

func New(src Source, logger observability.Logger) *Feed {
	return &Feed{
		src:    src,
		logger: logger,
		state:  State{Reservations: []domain.Booking{}, Loading: true},
		subs:   map[int]chan State{},
	}
}

// Activate opens a new subscription, replacing any previous one. The feed
// reports Loading until the first snapshot arrives.
func (f *Feed) Activate(ctx context.Context) {
	f.Deactivate()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.cancel = cancel
	f.done = done
	f.setLocked(State{Reservations: []domain.Booking{}, Loading: true})
	f.mu.Unlock()

	f.logger.Info("reservation feed activated")
	go func() {
		defer close(done)
		err := f.src.Watch(ctx, func(raws []record.Raw) { f.deliver(gen, raws) })
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("subscription closed by store")
		}
		f.fail(gen, err)
	}()
}

// Deactivate tears the subscription down and waits for it to stop. Deliveries
// that race with it are dropped. Calling it again is a no-op.
func (f *Feed) Deactivate() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.gen++
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	f.logger.Info("reservation feed deactivated")
}

// Run keeps the feed active until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	f.Activate(ctx)
	<-ctx.Done()
	f.Deactivate()
	return nil
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe returns a channel that receives the current state and then every
// change. A slow reader only sees the latest state.
func (f *Feed) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = ch
	ch <- f.state
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *Feed) deliver(gen uint64, raws []record.Raw) {
	bookings, err := record.ParseAll(raws)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return
	}
	if err != nil {
		f.failLocked(err)
		return
	}
	observability.FeedDeliveries.Inc()
	observability.FeedSize.Set(float64(len(bookings)))
	f.setLocked(State{Reservations: bookings})
}

func (f *Feed) fail(gen uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return
	}
	f.failLocked(err)
}

// failLocked parks the feed in Failed until the next Activate.
func (f *Feed) failLocked(err error) {
	f.logger.WithError(err).Error("error fetching reservations")
	msg := loadFailedMessage
	f.setLocked(State{Reservations: f.state.Reservations, Error: &msg})
	f.gen++
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Feed) setLocked(s State) {
	f.state = s
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
