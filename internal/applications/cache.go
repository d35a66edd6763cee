package applications

import (
	"sync"
	"sync/atomic"
	"time"
)

// Application is the cached projection of a job application.
type Application struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId,omitempty"`
	JobTitle    string    `json:"jobTitle,omitempty"`
	CandidateID string    `json:"candidateId,omitempty"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type snapshot struct {
	list []Application
	byID map[string]int
}

// Cache holds the application list owned by the job screens.
// Every write publishes a new snapshot; readers never take a lock.
type Cache struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	c := &Cache{}
	c.snap.Store(newSnapshot(nil))
	return c
}

func newSnapshot(list []Application) *snapshot {
	s := &snapshot{list: list, byID: make(map[string]int, len(list))}
	for i, a := range list {
		s.byID[a.ID] = i
	}
	return s
}

// Replace swaps the whole collection, as done after a screen fetch.
// Later entries win when ids repeat.
func (c *Cache) Replace(apps []Application) {
	list := make([]Application, 0, len(apps))
	seen := make(map[string]int, len(apps))
	for _, a := range apps {
		if i, ok := seen[a.ID]; ok {
			list[i] = a
			continue
		}
		seen[a.ID] = len(list)
		list = append(list, a)
	}

	c.mu.Lock()
	c.snap.Store(newSnapshot(list))
	c.mu.Unlock()
}

// Get returns the cached application with the given id.
func (c *Cache) Get(id string) (Application, bool) {
	s := c.snap.Load()
	i, ok := s.byID[id]
	if !ok {
		return Application{}, false
	}
	return s.list[i], true
}

// List returns the cached applications. The slice must not be modified.
func (c *Cache) List() []Application {
	return c.snap.Load().list
}

// FindByCandidateJob returns the application of candidateID for the job titled
// jobTitle. It reports false unless exactly one cached application matches.
func (c *Cache) FindByCandidateJob(candidateID, jobTitle string) (Application, bool) {
	if candidateID == "" || jobTitle == "" {
		return Application{}, false
	}

	var (
		found Application
		n     int
	)
	for _, a := range c.snap.Load().list {
		if a.CandidateID == candidateID && a.JobTitle == jobTitle {
			found = a
			n++
		}
	}
	if n != 1 {
		return Application{}, false
	}
	return found, true
}

// Len returns the number of cached applications.
func (c *Cache) Len() int {
	return len(c.snap.Load().list)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.snap.Store(newSnapshot(nil))
	c.mu.Unlock()
}

// update runs fn on the cached application under the writer lock and stores the
// result when fn returns true. It reports whether the application was present.
func (c *Cache) update(id string, fn func(cur Application) (Application, bool)) (Application, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snap.Load()
	i, ok := s.byID[id]
	if !ok {
		return Application{}, false
	}

	next, changed := fn(s.list[i])
	if !changed {
		return s.list[i], true
	}

	list := append([]Application(nil), s.list...)
	list[i] = next
	c.snap.Store(&snapshot{list: list, byID: s.byID})
	return next, true
}
