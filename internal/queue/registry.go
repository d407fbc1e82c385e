package queue

import (
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/models"
)

// Registry hands out queue handles by name and remembers which names exist,
// so the worker pool knows what to consume.
type Registry struct {
	client *redis.Client

	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewRegistry creates an empty registry bound to a Redis client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{
		client: client,
		queues: make(map[string]*Queue),
	}
}

// Get returns the queue with the given name, creating the handle on first
// use.
func (r *Registry) Get(name string) *Queue {
	r.mu.RLock()
	q, ok := r.queues[name]
	r.mu.RUnlock()
	if ok {
		return q
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q
	}
	q = New(r.client, name)
	r.queues[name] = q
	return q
}

// For returns the queue for a (task type, engine) pair.
func (r *Registry) For(taskType models.TaskType, engine models.Engine) *Queue {
	return r.Get(models.QueueNameFor(taskType, engine))
}

// Names returns the names of every queue seen so far.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// All returns every registered queue.
func (r *Registry) All() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qs := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		qs = append(qs, q)
	}
	return qs
}
