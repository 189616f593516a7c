package postgres

import (
	"context"
	"courier-routing-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
)

const notifyChannel = "routing_changes"

// ChangeListener implements the ChangeFeed port on top of Postgres
// LISTEN/NOTIFY. The schema's triggers publish {table, op, id} payloads on a
// single channel for the delivery_routes and deliveries tables.
type ChangeListener struct {
	connString string
}

func NewChangeListener(connString string) *ChangeListener {
	return &ChangeListener{connString: connString}
}

type notifyPayload struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// Subscribe opens a dedicated connection and forwards notifications until ctx
// is cancelled or the connection drops, then closes the channel.
func (l *ChangeListener) Subscribe(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return nil, fmt.Errorf("change listener: connect: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("change listener: listen %s: %w", notifyChannel, err)
	}

	ch := make(chan ports.ChangeEvent, 16)

	go func() {
		defer close(ch)
		defer func() { _ = conn.Close(context.Background()) }()

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("change listener: wait for notification: %v", err)
				}
				return
			}

			if !forward(ctx, ch, n.Payload) {
				return
			}
		}
	}()

	return ch, nil
}

// forward decodes one notification payload and delivers it, reporting false
// when ctx is cancelled before the consumer accepts the event. Payloads that
// cannot be decoded become empty events so consumers do a full refresh
// rather than missing a change.
func forward(ctx context.Context, ch chan<- ports.ChangeEvent, payload string) bool {
	var ev ports.ChangeEvent

	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		log.Printf("change listener: undecodable payload %q: %v", payload, err)
	} else {
		ev = ports.ChangeEvent{
			Collection: p.Table,
			Op:         ports.ChangeOp(p.Op),
			RowID:      p.ID,
		}
	}

	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
