package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Store is the persistence boundary for the relay. LockBatch must only hand a
// message to one relay at a time; pending messages and failed messages below
// the retry cap are both eligible.
type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Message, error)
	MarkPublished(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// Relay drains the outbox to the bus. Publish attempts run outside any
// business transaction; status updates are short standalone transactions.
type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string) *Relay {
	return &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			r.drainOnce(ctx)
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) {
	msgs, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		r.log.Error("relay lock batch error", "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	published := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if err := r.dispatch.Dispatch(ctx, m); err != nil {
			if mfErr := r.store.MarkFailed(ctx, m.ID, err.Error()); mfErr != nil {
				r.log.Error("relay mark failed error", "message_id", m.ID, "err", mfErr)
			}
			continue
		}
		published = append(published, m.ID)
	}
	if len(published) > 0 {
		if err := r.store.MarkPublished(ctx, published); err != nil {
			// Crash window: the send succeeded but the status write did not.
			// The messages will be re-published after the lease expires, which
			// is why consumers dedupe on message id.
			r.log.Error("relay mark published error", "err", err)
		}
	}
}
