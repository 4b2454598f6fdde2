package lookup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avelichko/walink/internal/address"
	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/ratelimit"
	"github.com/avelichko/walink/internal/session"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ResultKind discriminates batch result entries.
type ResultKind int

const (
	// ResultValid means the address normalized and the lookup completed.
	ResultValid ResultKind = iota
	// ResultInvalid means address normalization rejected the raw input.
	ResultInvalid
	// ResultRateLimited means the run was truncated before this item
	// because the tenant's quota was exhausted.
	ResultRateLimited
	// ResultFailed means the lookup itself errored on a connected session.
	ResultFailed
)

// Result is one batch entry, positioned at its input's original index.
type Result struct {
	Raw     string
	Kind    ResultKind
	Address string
	Exists  bool
	Name    *string
}

// ContactResolver is the lookup dependency of the dispatcher.
type ContactResolver interface {
	Resolve(ctx context.Context, sess *session.Session, addr string) (domain.ContactInfo, error)
}

// Dispatcher fans batches of raw inputs out through a resolver. The worker
// cap is global and shared across all tenants so simultaneous batches
// cannot overwhelm the remote network; per-run pacing additionally spaces
// one tenant's dispatches.
type Dispatcher struct {
	resolver  ContactResolver
	limiter   *ratelimit.Limiter
	workers   *semaphore.Weighted
	itemDelay time.Duration
}

// NewDispatcher creates a dispatcher. workers is the shared global
// concurrency cap; itemDelay is the minimum spacing between successive
// dispatches of one run.
func NewDispatcher(resolver ContactResolver, limiter *ratelimit.Limiter,
	workers *semaphore.Weighted, itemDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		resolver:  resolver,
		limiter:   limiter,
		workers:   workers,
		itemDelay: itemDelay,
	}
}

// Run checks every item in items and returns a same-length result slice in
// input order, regardless of lookup completion order. Normalization happens
// up front with no network I/O; invalid items never consume quota. When the
// quota is exhausted mid-batch, dispatching stops and every remaining item
// is marked rate limited while completed results stay intact.
func (d *Dispatcher) Run(ctx context.Context, sess *session.Session, items []string) ([]Result, error) {
	tenant := sess.TenantID()
	jobID := uuid.NewString()[:8]
	results := make([]Result, len(items))

	var queue []pending
	for i, raw := range items {
		addr, err := address.Normalize(raw)
		if err != nil {
			results[i] = Result{Raw: raw, Kind: ResultInvalid}
			continue
		}
		results[i] = Result{Raw: raw, Kind: ResultValid, Address: addr}
		queue = append(queue, pending{idx: i, addr: addr})
	}

	slog.Info("batch started", "job_id", jobID, "tenant_id", tenant,
		"items", len(items), "valid", len(queue))

	pacer := rate.NewLimiter(rate.Every(d.itemDelay), 1)
	var wg sync.WaitGroup

	dispatched := 0
	for qi, p := range queue {
		if err := pacer.Wait(ctx); err != nil {
			markRemaining(results, queue[qi:])
			wg.Wait()
			return results, err
		}

		decision := d.limiter.Allow(tenant)
		if !decision.OK && decision.Reason == ratelimit.ReasonCooldown {
			// Short pause, then retry once.
			if err := sleepCtx(ctx, decision.RetryAfter); err != nil {
				markRemaining(results, queue[qi:])
				wg.Wait()
				return results, err
			}
			decision = d.limiter.Allow(tenant)
		}
		if !decision.OK {
			if decision.Reason == ratelimit.ReasonQuota {
				markRemaining(results, queue[qi:])
				slog.Info("batch truncated by quota", "job_id", jobID,
					"tenant_id", tenant, "dispatched", dispatched)
				break
			}
			results[p.idx].Kind = ResultRateLimited
			continue
		}
		d.limiter.Record(tenant)

		if err := d.workers.Acquire(ctx, 1); err != nil {
			markRemaining(results, queue[qi:])
			wg.Wait()
			return results, err
		}
		dispatched++
		wg.Add(1)
		go func(idx int, addr string) {
			defer wg.Done()
			defer d.workers.Release(1)

			info, err := d.resolver.Resolve(ctx, sess, addr)
			if err != nil {
				// Each index is written exactly once, so no lock is needed.
				results[idx].Kind = ResultFailed
				return
			}
			results[idx].Exists = info.Exists
			results[idx].Name = info.Name
		}(p.idx, p.addr)
	}

	wg.Wait()
	slog.Info("batch finished", "job_id", jobID, "tenant_id", tenant, "dispatched", dispatched)
	return results, nil
}

type pending struct {
	idx  int
	addr string
}

func markRemaining(results []Result, rest []pending) {
	for _, p := range rest {
		results[p.idx] = Result{Raw: results[p.idx].Raw, Kind: ResultRateLimited}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
