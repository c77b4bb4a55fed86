// Package provisioning implements the QoD provisioning registry: the keyed
// set of application-server records the exposure API consults to resolve an
// access identifier into its tenant and a QoS profile label into a backend
// QoS reference.
//
// A Registry is an explicit handle. It serves reads from an in-memory index
// and writes through to a Store before publishing the new value to readers.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/observability"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/qos"
)

// Store is the backing store a Registry writes through to. Get returns
// (nil, nil) when the key is absent.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, accessIdentifier string) (*Record, error)
	Delete(ctx context.Context, accessIdentifier string) (bool, error)
	List(ctx context.Context) ([]Record, error)
	Close() error
}

const (
	DefaultStoreTimeout = 2 * time.Second
	DefaultRetryDelay   = 100 * time.Millisecond
)

// Options configures a Registry.
type Options struct {
	// StoreTimeout bounds every backing-store call.
	StoreTimeout time.Duration
	// RetryOnce retries a failed store call a single time after RetryDelay.
	RetryOnce  bool
	RetryDelay time.Duration

	Logger        *slog.Logger
	Notifier      Notifier
	Observability *observability.Provider
}

type Option func(*Options)

func WithStoreTimeout(d time.Duration) Option {
	return func(o *Options) { o.StoreTimeout = d }
}

// WithRetryOnce enables one bounded retry of failed store calls.
func WithRetryOnce(delay time.Duration) Option {
	return func(o *Options) {
		o.RetryOnce = true
		o.RetryDelay = delay
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithNotifier(n Notifier) Option {
	return func(o *Options) { o.Notifier = n }
}

func WithObservability(p *observability.Provider) Option {
	return func(o *Options) { o.Observability = p }
}

// Registry is safe for concurrent use.
type Registry struct {
	store  Store
	opts   Options
	logger *slog.Logger

	index sync.Map // canonical access identifier -> *Record
	size  atomic.Int64
	locks keyLocks

	life   sync.RWMutex
	closed bool
}

// Open builds a Registry over store and loads every persisted record into
// the index. Persisted records that no longer validate are skipped and logged.
func Open(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("provisioning: nil store")
	}
	o := Options{
		StoreTimeout: DefaultStoreTimeout,
		RetryDelay:   DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "provisioning")
	}

	r := &Registry{store: store, opts: o, logger: o.Logger}

	var recs []Record
	err := r.storeCall(ctx, "list", func(ctx context.Context) error {
		var err error
		recs, err = store.List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning: initial load: %w", err)
	}

	for _, rec := range recs {
		canon, err := Validate(rec)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping invalid persisted record",
				"access_identifier", rec.AccessIdentifier, "kind", Kind(err), "error", err)
			continue
		}
		if _, loaded := r.index.Swap(canon.AccessIdentifier, &canon); !loaded {
			r.size.Add(1)
		}
	}

	r.logger.InfoContext(ctx, "provisioning registry opened", "records", r.Len())
	return r, nil
}

// Provision validates rec and upserts it by access identifier. The previous
// record, if any, is replaced whole. On error the registry is unchanged.
func (r *Registry) Provision(ctx context.Context, rec Record) (err error) {
	ctx, done := r.track(ctx, "provision")
	defer func() { done(err) }()

	canon, err := Validate(rec)
	if err != nil {
		r.logger.DebugContext(ctx, "provision rejected",
			"access_identifier", rec.AccessIdentifier, "kind", Kind(err), "error", err)
		return err
	}

	if err := r.enter(); err != nil {
		return err
	}
	defer r.leave()

	key := canon.AccessIdentifier
	unlock := r.locks.lock(key)
	defer unlock()

	if err := r.storeCall(ctx, "put", func(ctx context.Context) error {
		return r.store.Put(ctx, canon.Clone())
	}); err != nil {
		return err
	}

	if _, loaded := r.index.Swap(key, &canon); !loaded {
		r.size.Add(1)
	}
	r.notify(ctx, Change{
		Op:                    OpProvisioned,
		AccessIdentifier:      key,
		ExternalApplicationID: canon.ExternalApplicationID,
		At:                    time.Now().UTC(),
	})

	r.logger.InfoContext(ctx, "provisioned",
		"access_identifier", key,
		"external_application_id", canon.ExternalApplicationID,
		"labels", len(canon.QosProfileMap))
	return nil
}

// Deprovision removes the record for accessIdentifier. Removing an absent
// (or unparseable) key succeeds with removed == false.
func (r *Registry) Deprovision(ctx context.Context, accessIdentifier string) (removed bool, err error) {
	ctx, done := r.track(ctx, "deprovision")
	defer func() { done(err) }()

	if err := r.enter(); err != nil {
		return false, err
	}
	defer r.leave()

	key, err := CanonicalAddress(accessIdentifier)
	if err != nil {
		return false, nil
	}

	unlock := r.locks.lock(key)
	defer unlock()

	var stored bool
	if err := r.storeCall(ctx, "delete", func(ctx context.Context) error {
		var err error
		stored, err = r.store.Delete(ctx, key)
		return err
	}); err != nil {
		return false, err
	}

	prev, indexed := r.index.LoadAndDelete(key)
	if indexed {
		r.size.Add(-1)
	}
	removed = stored || indexed
	if !removed {
		return false, nil
	}

	c := Change{Op: OpDeprovisioned, AccessIdentifier: key, At: time.Now().UTC()}
	if indexed {
		c.ExternalApplicationID = prev.(*Record).ExternalApplicationID
	}
	r.notify(ctx, c)
	r.logger.InfoContext(ctx, "deprovisioned", "access_identifier", key)
	return true, nil
}

// Lookup returns the current record for accessIdentifier.
func (r *Registry) Lookup(ctx context.Context, accessIdentifier string) (rec Record, err error) {
	_, done := r.track(ctx, "lookup")
	defer func() { done(failure(err)) }()

	if err := r.enter(); err != nil {
		return Record{}, err
	}
	defer r.leave()

	p, err := r.load(accessIdentifier)
	if err != nil {
		return Record{}, err
	}
	return p.Clone(), nil
}

// ResolveQosReference returns the backend QoS reference accessIdentifier's
// record maps label to.
func (r *Registry) ResolveQosReference(ctx context.Context, accessIdentifier, label string) (ref string, err error) {
	_, done := r.track(ctx, "resolve", attribute.String("qos.label", label))
	defer func() { done(failure(err)) }()

	if err := r.enter(); err != nil {
		return "", err
	}
	defer r.leave()

	p, err := r.load(accessIdentifier)
	if err != nil {
		return "", err
	}
	l := qos.Label(label)
	if !l.Valid() {
		return "", &LabelError{Label: label, Reason: Unknown}
	}
	ref, ok := p.QosProfileMap[l]
	if !ok {
		return "", &LabelError{Label: label, Reason: NotSubscribed}
	}
	return ref, nil
}

// Refresh re-reads accessIdentifier from the backing store and replaces or
// drops the indexed record to match. Replicas sharing one store call it when
// a peer reports a change.
func (r *Registry) Refresh(ctx context.Context, accessIdentifier string) (err error) {
	ctx, done := r.track(ctx, "refresh")
	defer func() { done(err) }()

	if err := r.enter(); err != nil {
		return err
	}
	defer r.leave()

	key, err := CanonicalAddress(accessIdentifier)
	if err != nil {
		return err
	}

	unlock := r.locks.lock(key)
	defer unlock()

	var rec *Record
	if err := r.storeCall(ctx, "get", func(ctx context.Context) error {
		var err error
		rec, err = r.store.Get(ctx, key)
		return err
	}); err != nil {
		return err
	}

	if rec == nil {
		if _, loaded := r.index.LoadAndDelete(key); loaded {
			r.size.Add(-1)
		}
		return nil
	}

	canon, err := Validate(*rec)
	if err != nil {
		return fmt.Errorf("provisioning: persisted record %s: %w", key, err)
	}
	if _, loaded := r.index.Swap(key, &canon); !loaded {
		r.size.Add(1)
	}
	return nil
}

// List returns every record sorted by access identifier.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	out := make([]Record, 0, r.Len())
	r.index.Range(func(_, v any) bool {
		out = append(out, v.(*Record).Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AccessIdentifier < out[j].AccessIdentifier })
	return out, nil
}

// Len returns the number of indexed records.
func (r *Registry) Len() int { return int(r.size.Load()) }

// Close waits for in-flight operations, refuses new ones and closes the
// backing store. It is safe to call more than once.
func (r *Registry) Close() error {
	r.life.Lock()
	if r.closed {
		r.life.Unlock()
		return nil
	}
	r.closed = true
	r.life.Unlock()

	if err := r.store.Close(); err != nil {
		return fmt.Errorf("provisioning: close store: %w", err)
	}
	r.logger.Info("provisioning registry closed")
	return nil
}

func (r *Registry) load(accessIdentifier string) (*Record, error) {
	key, err := CanonicalAddress(accessIdentifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotProvisioned, accessIdentifier)
	}
	v, ok := r.index.Load(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotProvisioned, key)
	}
	return v.(*Record), nil
}

func (r *Registry) enter() error {
	r.life.RLock()
	if r.closed {
		r.life.RUnlock()
		return fmt.Errorf("%w: registry closed", ErrStoreUnavailable)
	}
	return nil
}

func (r *Registry) leave() { r.life.RUnlock() }

// storeCall runs fn under the store timeout, retrying once when configured.
// Any failure is reported as ErrStoreUnavailable wrapping the cause.
func (r *Registry) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := 1
	if r.opts.RetryOnce {
		attempts = 2
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, ctx.Err())
			case <-time.After(r.opts.RetryDelay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.WarnContext(ctx, "store call failed", "op", op, "attempt", i+1, "error", err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func (r *Registry) notify(ctx context.Context, c Change) {
	if r.opts.Notifier == nil {
		return
	}
	if err := r.opts.Notifier.Notify(ctx, c); err != nil {
		r.logger.WarnContext(ctx, "change notification failed",
			"op", c.Op, "access_identifier", c.AccessIdentifier, "error", err)
	}
}

func (r *Registry) track(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if r.opts.Observability == nil {
		return ctx, func(error) {}
	}
	attrs = append(attrs, attribute.String("qod.registry.op", op))
	return r.opts.Observability.TrackOperation(ctx, "qod.registry."+op, attrs...)
}

// failure filters out lookup misses, which are a normal outcome and not
// counted as registry errors.
func failure(err error) error {
	if errors.Is(err, ErrNotProvisioned) {
		return nil
	}
	return err
}
