package contentstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"srcsnap/internal/snap"
)

// RetryingStore retries transient backend failures of the wrapped store with
// exponential backoff. Only errors of kind snap.ErrBackend are retried; the
// last one is returned once retries run out.
type RetryingStore struct {
	inner      snap.ContentStore
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     snap.Logger
}

// NewRetryingStore wraps inner, retrying each operation up to maxRetries
// times.
func NewRetryingStore(inner snap.ContentStore, maxRetries int, logger snap.Logger) *RetryingStore {
	return newRetryingStore(inner, maxRetries, logger, func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = 30 * time.Second
		return b
	})
}

func newRetryingStore(inner snap.ContentStore, maxRetries int, logger snap.Logger, newBackOff func() backoff.BackOff) *RetryingStore {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryingStore{
		inner:      inner,
		maxRetries: uint64(maxRetries),
		newBackOff: newBackOff,
		logger:     logger,
	}
}

func (r *RetryingStore) Name() string { return r.inner.Name() }

// do runs op until it succeeds, fails permanently, the context ends or the
// retry budget is spent.
func (r *RetryingStore) do(ctx context.Context, name string, op func() error) error {
	var err error
	try := 1
	backoff.Retry(func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return nil
		}
		err = op()
		if err != nil && snap.IsRetryable(err) {
			r.logger.Debug("retrying store operation", "op", name, "try", try, "backend", r.inner.Name(), "error", err)
			try++
			return err
		}
		return nil
	}, backoff.WithMaxRetries(r.newBackOff(), r.maxRetries))
	return err
}

func (r *RetryingStore) Put(ctx context.Context, hash string, data []byte) (snap.Pointer, error) {
	var ptr snap.Pointer
	err := r.do(ctx, "put", func() error {
		var err error
		ptr, err = r.inner.Put(ctx, hash, data)
		return err
	})
	return ptr, err
}

func (r *RetryingStore) Get(ctx context.Context, ptr snap.Pointer) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", func() error {
		var err error
		data, err = r.inner.Get(ctx, ptr)
		return err
	})
	return data, err
}

func (r *RetryingStore) Delete(ctx context.Context, ptr snap.Pointer) (bool, error) {
	var existed bool
	err := r.do(ctx, "delete", func() error {
		var err error
		existed, err = r.inner.Delete(ctx, ptr)
		return err
	})
	return existed, err
}

var _ snap.ContentStore = (*RetryingStore)(nil)
