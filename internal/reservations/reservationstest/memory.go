// Package reservationstest provides an in-memory reservations.Collection for
// tests.
package reservationstest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/record"
)

type Collection struct {
	// Errors returned by the matching method when set.
	FailInsert error
	FailFind   error
	FailGet    error
	FailCancel error
	FailUpdate error
	FailWatch  error

	mu       sync.Mutex
	ids      []string
	docs     map[string]record.Document
	seq      int
	clock    time.Time
	writes   int
	watchers map[int]*watcher
	nextW    int
}

type watcher struct {
	changed chan struct{}
	failed  chan error
}

func New() *Collection {
	return &Collection{
		docs:     map[string]record.Document{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		watchers: map[int]*watcher{},
	}
}

// Put stores doc under id as is, bypassing server stamping. Watchers are
// notified.
func (c *Collection) Put(id string, doc record.Document) {
	c.mu.Lock()
	if _, ok := c.docs[id]; !ok {
		c.ids = append(c.ids, id)
	}
	c.docs[id] = copyDoc(doc)
	c.mu.Unlock()
	c.changed()
}

// Doc returns a copy of the stored document.
func (c *Collection) Doc(id string) (record.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[id]
	return copyDoc(d), ok
}

// Writes counts writes that modified the collection.
func (c *Collection) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// BreakWatches makes every active Watch return err.
func (c *Collection) BreakWatches(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.watchers {
		select {
		case w.failed <- err:
		default:
		}
	}
}

func (c *Collection) EncodeTime(t time.Time) any { return t }

func (c *Collection) Insert(ctx context.Context, doc record.Document) (string, error) {
	if c.FailInsert != nil {
		return "", c.FailInsert
	}
	c.mu.Lock()
	c.seq++
	id := "res-" + strconv.Itoa(c.seq)
	d := copyDoc(doc)
	d[record.FieldCreatedAt] = c.tick()
	c.ids = append(c.ids, id)
	c.docs[id] = d
	c.writes++
	c.mu.Unlock()
	c.changed()
	return id, nil
}

func (c *Collection) FindAll(ctx context.Context) ([]record.Raw, error) {
	if c.FailFind != nil {
		return nil, c.FailFind
	}
	return c.snapshot(""), nil
}

func (c *Collection) FindByStatus(ctx context.Context, status domain.Status) ([]record.Raw, error) {
	if c.FailFind != nil {
		return nil, c.FailFind
	}
	return c.snapshot(status), nil
}

func (c *Collection) Get(ctx context.Context, id string) (record.Document, error) {
	if c.FailGet != nil {
		return nil, c.FailGet
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyDoc(d), nil
}

func (c *Collection) CancelIfConfirmed(ctx context.Context, id string) (bool, error) {
	if c.FailCancel != nil {
		return false, c.FailCancel
	}
	c.mu.Lock()
	d, ok := c.docs[id]
	if !ok || d[record.FieldStatus] != string(domain.StatusConfirmed) {
		c.mu.Unlock()
		return false, nil
	}
	d[record.FieldStatus] = string(domain.StatusCancelled)
	d[record.FieldUpdatedAt] = c.tick()
	c.writes++
	c.mu.Unlock()
	c.changed()
	return true, nil
}

func (c *Collection) Update(ctx context.Context, id string, fields record.Document, upsert bool) (bool, error) {
	if c.FailUpdate != nil {
		return false, c.FailUpdate
	}
	c.mu.Lock()
	d, ok := c.docs[id]
	if !ok {
		if !upsert {
			c.mu.Unlock()
			return false, nil
		}
		d = record.Document{
			record.FieldStatus:    string(domain.StatusConfirmed),
			record.FieldCreatedAt: c.tick(),
		}
		c.ids = append(c.ids, id)
		c.docs[id] = d
	}
	for k, v := range fields {
		d[k] = v
	}
	d[record.FieldUpdatedAt] = c.tick()
	c.writes++
	c.mu.Unlock()
	c.changed()
	return ok, nil
}

func (c *Collection) Watch(ctx context.Context, deliver func([]record.Raw)) error {
	if c.FailWatch != nil {
		return c.FailWatch
	}
	w := &watcher{changed: make(chan struct{}, 1), failed: make(chan error, 1)}
	c.mu.Lock()
	c.nextW++
	key := c.nextW
	c.watchers[key] = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.watchers, key)
		c.mu.Unlock()
	}()

	deliver(c.snapshot(""))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.failed:
			return err
		case <-w.changed:
			deliver(c.snapshot(""))
		}
	}
}

func (c *Collection) snapshot(status domain.Status) []record.Raw {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]record.Raw, 0, len(c.ids))
	for _, id := range c.ids {
		d := c.docs[id]
		if status != "" && d[record.FieldStatus] != string(status) {
			continue
		}
		out = append(out, record.Raw{ID: id, Data: copyDoc(d)})
	}
	return out
}

func (c *Collection) changed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.watchers {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}
}

// tick advances the fake server clock. Callers hold mu.
func (c *Collection) tick() time.Time {
	c.clock = c.clock.Add(time.Second)
	return c.clock
}

func copyDoc(d record.Document) record.Document {
	if d == nil {
		return nil
	}
	out := make(record.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
