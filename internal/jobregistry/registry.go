// Package jobregistry provides the map-based jobstore.ClassResolver
// cmd/schedulerd wires into the engine. The teacher binds one Process type
// per Client at compile time; a clustered job store instead resolves an
// opaque job-class string at fire time, so callers register a JobFactory
// under the same name they gave jobstore.JobDetail.JobClass at schedule time.
package jobregistry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]jobstore.JobFactory
}

func New() *Registry {
	return &Registry{factories: make(map[string]jobstore.JobFactory)}
}

func (r *Registry) Register(className string, factory jobstore.JobFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[className] = factory
}

func (r *Registry) Resolve(className string) (jobstore.JobFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[className]
	if !ok {
		return nil, errors.Wrapf(jobstore.ErrClassLoad, "job class %q is not registered", className)
	}
	return factory, nil
}

var _ jobstore.ClassResolver = (*Registry)(nil)
