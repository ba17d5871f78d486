// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package trust

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// DefaultRefreshInterval is the default minimum spacing between CRL
// refreshes (one per hour) used by the `trust refresh-crl` subcommand.
const DefaultRefreshInterval = time.Hour

// Refresher rate-limits calls to RefreshCRL so a misconfigured cron
// invoking the refresh subcommand in a tight loop cannot hammer the CRL
// distribution point (out of scope for the core builder per spec.md §1,
// but the surrounding trust-store tooling that would fetch CRLs is
// shaped and throttled here).
type Refresher struct {
	store    *Store
	interval time.Duration
	limiter  *rate.Limiter
	fetch    func(ctx context.Context) ([]string, error)
}

// NewRefresher builds a Refresher that allows at most one RefreshCRL call
// per interval, backed by fetch (the pluggable CRL-distribution-point
// client; network fetching itself stays out of scope here, see spec.md
// §1's "Network fetching of CRLs or certificates" non-goal).
func NewRefresher(store *Store, interval time.Duration, fetch func(ctx context.Context) ([]string, error)) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		store:    store,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		fetch:    fetch,
	}
}

// RefreshCRL fetches the current revoked-serial list and merges it into
// the store's revocation cache. It returns an error without calling fetch
// if the rate limiter denies the attempt, or if the store's recorded last
// refresh is less than one interval ago.
func (r *Refresher) RefreshCRL(ctx context.Context) error {
	if !r.limiter.Allow() {
		return imgerr.New(imgerr.IO, imgerr.CodeInternal, "CRL refresh attempted before the configured interval elapsed")
	}
	last, err := r.store.lastRefresh()
	if err != nil {
		return err
	}
	if !last.IsZero() && time.Since(last) < r.interval {
		return imgerr.New(imgerr.IO, imgerr.CodeInternal, "CRL refresh attempted before the configured interval elapsed")
	}

	serials, err := r.fetch(ctx)
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "fetching CRL")
	}
	for _, s := range serials {
		if err := r.store.MarkRevoked(s); err != nil {
			return err
		}
	}
	return r.store.recordRefresh(time.Now())
}
