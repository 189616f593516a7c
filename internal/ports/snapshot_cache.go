package ports

import (
	"context"
	"courier-routing-service/internal/domain"
)

// Port: durable local mirror of the routing working set, used to warm the
// repository after a restart and to keep a readable copy while the
// persistence collaborator is unreachable.
//
// Merge upserts by entity id and keeps whichever copy has the newer
// updated-at timestamp, so a stale remote fetch cannot silently clobber a
// fresher cached row when connectivity flaps.
type SnapshotCache interface {
	Load(ctx context.Context) (*domain.WorkingSet, error)
	Merge(ctx context.Context, ws *domain.WorkingSet) error
}
