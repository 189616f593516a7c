package services

import (
	"context"
	"courier-routing-service/internal/ports"
	"log"
	"time"
)

// Above this many coalesced events a single full refresh is cheaper than
// per-row reloads.
const narrowRefreshLimit = 8

// LiveChangeListener consumes the change feed and keeps the repository in
// sync. Rapid bursts of events coalesce into one pass; events that identify
// their row trigger narrow per-row refreshes, anything else falls back to a
// full refetch.
type LiveChangeListener struct {
	feed ports.ChangeFeed
	repo *RouteRepository

	// Window during which consecutive events are batched. Zero means 250ms.
	Debounce time.Duration
}

func NewLiveChangeListener(feed ports.ChangeFeed, repo *RouteRepository) *LiveChangeListener {
	return &LiveChangeListener{
		feed:     feed,
		repo:     repo,
		Debounce: 250 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled, resubscribing with backoff whenever the
// feed drops.
func (l *LiveChangeListener) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := l.feed.Subscribe(ctx)
		if err != nil {
			log.Printf("live listener: subscribe failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		l.consume(ctx, ch)
	}
}

func (l *LiveChangeListener) consume(ctx context.Context, ch <-chan ports.ChangeEvent) {
	debounce := l.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			batch := []ports.ChangeEvent{ev}
			timer := time.NewTimer(debounce)

		drain:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case next, ok := <-ch:
					if !ok {
						timer.Stop()
						break drain
					}
					batch = append(batch, next)
				case <-timer.C:
					break drain
				}
			}

			l.apply(ctx, batch)
		}
	}
}

func (l *LiveChangeListener) apply(ctx context.Context, batch []ports.ChangeEvent) {
	if len(batch) > narrowRefreshLimit {
		l.fullRefresh(ctx)
		return
	}

	type rowKey struct{ collection, id string }
	seen := make(map[rowKey]struct{}, len(batch))

	for _, ev := range batch {
		if ev.RowID == "" {
			l.fullRefresh(ctx)
			return
		}
		seen[rowKey{ev.Collection, ev.RowID}] = struct{}{}
	}

	for key := range seen {
		if err := l.repo.RefreshRow(ctx, key.collection, key.id); err != nil {
			log.Printf("live listener: refresh %s/%s failed: %v", key.collection, key.id, err)
			l.fullRefresh(ctx)
			return
		}
	}
}

func (l *LiveChangeListener) fullRefresh(ctx context.Context) {
	if err := l.repo.Refresh(ctx); err != nil {
		log.Printf("live listener: full refresh failed: %v", err)
	}
}
