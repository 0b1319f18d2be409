package pack

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/packd/pkg/object"
)

// job is a delta entry paired with its resolved base.
type job struct {
	entry *Entry
	base  *object.Object
}

// resolver turns delta entries into objects as their bases become
// available. Publishing an object inserts it into the cache before taking
// its waiters; parking a delta adds it to the waitlist before looking for
// its base again. Between the two orders every waiter is found by exactly
// one side.
type resolver struct {
	ctx     context.Context
	cache   *Cache
	wait    *Waitlist
	workers int

	g    *errgroup.Group
	gctx context.Context
}

func newResolver(ctx context.Context, cache *Cache, workers int) *resolver {
	r := &resolver{ctx: ctx, cache: cache, wait: NewWaitlist(), workers: workers}
	r.reset()
	return r
}

func (r *resolver) reset() {
	r.g, r.gctx = errgroup.WithContext(r.ctx)
	r.g.SetLimit(r.workers)
}

// failed reports whether a worker has already returned an error.
func (r *resolver) failed() bool {
	return r.gctx.Err() != nil
}

// drain waits for every running worker and returns the first failure.
func (r *resolver) drain() error {
	err := r.g.Wait()
	r.reset()
	return err
}

// abort waits for workers after a parse failure; their result is dropped.
func (r *resolver) abort() {
	_ = r.g.Wait()
}

// publish makes obj available at offset (negative when it is not a pack
// entry) and schedules every delta that was waiting on it.
func (r *resolver) publish(offset int64, obj *object.Object, external bool) error {
	if _, err := r.cache.Put(offset, obj, external); err != nil {
		return err
	}
	jobs := r.takeWaiters(offset, obj)
	if len(jobs) == 0 {
		return nil
	}
	r.g.Go(func() error { return r.run(jobs) })
	return nil
}

// submit resolves e now if its base is cached and parks it otherwise.
func (r *resolver) submit(e *Entry) error {
	base, ok, err := r.lookupBase(e)
	if err != nil {
		return err
	}
	if ok {
		jobs := []job{{entry: e, base: base}}
		r.g.Go(func() error { return r.run(jobs) })
		return nil
	}

	r.wait.Add(e)
	base, ok, err = r.lookupBase(e)
	if err != nil || !ok {
		return err
	}
	// The base was published between the first lookup and Add. Its
	// publisher may or may not have seen e; Take decides who owns it.
	var parked []*Entry
	if e.Type == object.TypeOfsDelta {
		parked = r.wait.ByOffset.Take(e.BaseOffset)
	} else {
		parked = r.wait.ByHash.Take(e.BaseHash)
	}
	if len(parked) == 0 {
		return nil
	}
	jobs := make([]job, len(parked))
	for i, p := range parked {
		jobs[i] = job{entry: p, base: base}
	}
	r.g.Go(func() error { return r.run(jobs) })
	return nil
}

func (r *resolver) lookupBase(e *Entry) (*object.Object, bool, error) {
	if e.Type == object.TypeOfsDelta {
		return r.cache.GetByOffset(e.BaseOffset)
	}
	return r.cache.Get(e.BaseHash)
}

func (r *resolver) takeWaiters(offset int64, obj *object.Object) []job {
	waiters := r.wait.Take(offset, obj.Hash)
	if len(waiters) == 0 {
		return nil
	}
	jobs := make([]job, len(waiters))
	for i, w := range waiters {
		jobs[i] = job{entry: w, base: obj}
	}
	return jobs
}

// run works through queue until it is empty. Dependents unblocked along the
// way go to a fresh worker when the pool has room and stay on the local
// queue otherwise, so chains of any depth resolve without recursion.
func (r *resolver) run(queue []job) error {
	for len(queue) > 0 {
		if err := r.gctx.Err(); err != nil {
			return err
		}
		j := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		obj, err := resolveDelta(j.entry, j.base)
		if err != nil {
			return err
		}
		if _, err := r.cache.Put(j.entry.Offset, obj, false); err != nil {
			return fmt.Errorf("delta at offset %d: %w", j.entry.Offset, err)
		}

		for _, next := range r.takeWaiters(j.entry.Offset, obj) {
			if !r.g.TryGo(func() error { return r.run([]job{next}) }) {
				queue = append(queue, next)
			}
		}
	}
	return nil
}

func resolveDelta(e *Entry, base *object.Object) (*object.Object, error) {
	data, err := ApplyDelta(base.Data, e.Data)
	if err != nil {
		return nil, fmt.Errorf("delta at offset %d against %s: %w", e.Offset, base.Hash, err)
	}
	e.Hash = object.HashObject(base.Type, data)
	return &object.Object{Hash: e.Hash, Type: base.Type, Data: data}, nil
}

// fillFromStore publishes REF_DELTA bases that the pack did not carry but
// the backing store holds, then waits for the dependents to resolve.
func (r *resolver) fillFromStore(store object.Store, log logrus.FieldLogger) error {
	if store == nil {
		return nil
	}
	for _, h := range r.wait.ByHash.Keys() {
		obj, err := store.Get(h)
		if errors.Is(err, object.ErrNotFound) {
			continue
		}
		if err != nil {
			_ = r.drain()
			return fmt.Errorf("thin base %s: %w", h, err)
		}
		if !obj.Type.IsBase() || object.HashObject(obj.Type, obj.Data) != h {
			_ = r.drain()
			return fmt.Errorf("thin base %s: %w: backing store content does not match", h, ErrIntegrity)
		}
		log.WithField("base", h.String()).Debug("completing thin pack from store")
		if err := r.publish(-1, obj, true); err != nil {
			_ = r.drain()
			return fmt.Errorf("thin base %s: %w", h, err)
		}
	}
	return r.drain()
}
