package ports

import "context"

type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// One observed row change. RowID may be empty when the backend cannot
// identify the row; consumers fall back to a full refresh in that case.
type ChangeEvent struct {
	Collection string
	Op         ChangeOp
	RowID      string
}

// Port: an asynchronous feed of row changes on the routing collections.
// The returned channel is closed when ctx is cancelled or the underlying
// subscription fails; callers resubscribe as needed.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}
