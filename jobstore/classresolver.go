package jobstore

import "context"

// JobFactory produces a runnable job instance for one fire. It is the only
// contract this store has with job code; invocation, listener dispatch, and
// thread-pool execution are the façade's concern.
type JobFactory interface {
	NewJob(ctx context.Context) (Runnable, error)
}

// Runnable is the minimal job-execution contract the store's engine needs in
// order to know whether a fire succeeded. Job execution itself is an external
// collaborator.
type Runnable interface {
	Execute(ctx context.Context, jobDataMap map[string]any) error
}

// ClassResolver maps an opaque job-class name to a JobFactory. The
// class-loader dependency becomes this small interface; the store holds a
// reference to it purely as a collaborator.
type ClassResolver interface {
	Resolve(className string) (JobFactory, error)
}

// ClassResolverFunc adapts a plain function to ClassResolver.
type ClassResolverFunc func(className string) (JobFactory, error)

func (f ClassResolverFunc) Resolve(className string) (JobFactory, error) {
	return f(className)
}
