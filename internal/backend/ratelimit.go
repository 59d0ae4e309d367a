// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// RateLimited wraps a Backend with a token-bucket limiter and a
// bounded concurrency semaphore for uploads (Put) and downloads (Get),
// per §5: "Backend upload and download each have a token-bucket
// limiter and a bounded concurrency semaphore (defaults: 3 concurrent
// uploads, 5 concurrent downloads)."
type RateLimited struct {
	inner Backend

	uploadLimiter   *rate.Limiter
	downloadLimiter *rate.Limiter
	uploadSlots     chan struct{}
	downloadSlots   chan struct{}
}

// RateLimitOptions configures a RateLimited backend. A zero value for
// any bytes-per-second field means unlimited throughput; concurrency
// fields fall back to the documented defaults when zero.
type RateLimitOptions struct {
	MaxConcurrentUploads   int
	MaxConcurrentDownloads int
	UploadBytesPerSecond   float64
	DownloadBytesPerSecond float64
}

// NewRateLimited wraps inner with the given limits.
func NewRateLimited(inner Backend, opts RateLimitOptions) *RateLimited {
	uploads := opts.MaxConcurrentUploads
	if uploads <= 0 {
		uploads = 3
	}
	downloads := opts.MaxConcurrentDownloads
	if downloads <= 0 {
		downloads = 5
	}

	return &RateLimited{
		inner:           inner,
		uploadLimiter:   limiterFor(opts.UploadBytesPerSecond),
		downloadLimiter: limiterFor(opts.DownloadBytesPerSecond),
		uploadSlots:     make(chan struct{}, uploads),
		downloadSlots:   make(chan struct{}, downloads),
	}
}

func limiterFor(bytesPerSecond float64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(bytesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

func (r *RateLimited) Put(ctx context.Context, prefix string, blobType BlobType, id string, data []byte) (string, error) {
	if err := acquire(ctx, r.uploadSlots); err != nil {
		return "", err
	}
	defer release(r.uploadSlots)

	if err := waitForTokens(ctx, r.uploadLimiter, len(data)); err != nil {
		return "", err
	}
	return r.inner.Put(ctx, prefix, blobType, id, data)
}

func (r *RateLimited) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := acquire(ctx, r.downloadSlots); err != nil {
		return nil, err
	}
	defer release(r.downloadSlots)

	data, err := r.inner.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	// The object's size is only known after the read, so the
	// download limiter is charged retroactively; this bounds
	// sustained throughput without delaying the read that just
	// happened.
	if err := waitForTokens(ctx, r.downloadLimiter, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RateLimited) Delete(ctx context.Context, locator string) error {
	return r.inner.Delete(ctx, locator)
}

func (r *RateLimited) Enumerate(ctx context.Context, prefix string, sinceCursor string) ([]Entry, error) {
	return r.inner.Enumerate(ctx, prefix, sinceCursor)
}

func acquire(ctx context.Context, slots chan struct{}) error {
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return coreerr.Wrap(coreerr.BackendTimeout, "backend: waiting for concurrency slot", ctx.Err())
	}
}

func release(slots chan struct{}) { <-slots }

func waitForTokens(ctx context.Context, limiter *rate.Limiter, n int) error {
	if n <= 0 {
		return nil
	}
	// Reservation-based waiting bounds how long a single call may
	// block on a limiter tuned far below the request size.
	reservation := limiter.ReserveN(time.Now(), n)
	if !reservation.OK() {
		return coreerr.New(coreerr.InvalidArgument, "backend: request exceeds limiter burst capacity")
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return coreerr.Wrap(coreerr.BackendTimeout, "backend: rate limit wait", ctx.Err())
	}
}
