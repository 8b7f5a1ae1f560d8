package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	"github.com/vanyaWEB/botsshop/internal/metrics"
)

const (
	AudienceBuyer = "buyer"
	AudienceAdmin = "admin"
)

const sendTimeout = 5 * time.Second

// Event は送信先1人分の通知
type Event struct {
	Type       model.OrderEvent    `json:"type"`
	Audience   string              `json:"audience"`
	Recipient  int64               `json:"recipient"`
	Order      model.OrderSnapshot `json:"order"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Sink は実際の送り先（Kafka・ログ）
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

var ErrClosed = errors.New("dispatcher closed")

// Dispatcher は通知をキューに積み、1本のワーカーでSinkへ流す。
// キューが一杯なら捨てる。注文処理は通知を待たない。
type Dispatcher struct {
	sink     Sink
	adminIDs []int64
	metrics  *metrics.Metrics
	log      *slog.Logger

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink Sink, adminIDs []int64, queueSize int, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		sink:     sink,
		adminIDs: append([]int64(nil), adminIDs...),
		metrics:  m,
		log:      log,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) NotifyBuyer(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent) {
	d.enqueue(ctx, Event{
		Type:       event,
		Audience:   AudienceBuyer,
		Recipient:  snap.Order.UserID,
		Order:      snap,
		OccurredAt: time.Now(),
	})
}

func (d *Dispatcher) NotifyAdmins(ctx context.Context, snap model.OrderSnapshot, event model.OrderEvent) {
	now := time.Now()
	for _, id := range d.adminIDs {
		d.enqueue(ctx, Event{
			Type:       event,
			Audience:   AudienceAdmin,
			Recipient:  id,
			Order:      snap,
			OccurredAt: now,
		})
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, ev, "closed")
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.drop(ctx, ev, "queue_full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, ev Event, reason string) {
	d.metrics.RecordNotificationLost(ctx, reason)
	d.log.WarnContext(ctx, "notification dropped",
		"reason", reason,
		"event", string(ev.Type),
		"recipient", ev.Recipient,
		"order_id", ev.Order.Order.ID,
	)
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := d.sink.Send(ctx, ev); err != nil {
			d.metrics.RecordNotificationLost(ctx, "send_failed")
			d.log.ErrorContext(ctx, "notification send failed",
				"event", string(ev.Type),
				"recipient", ev.Recipient,
				"order_id", ev.Order.Order.ID,
				"err", err,
			)
		}
		cancel()
	}
}

// Close は受付を止め、積まれた分を流し切ってからSinkを閉じる
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.sink.Close()
}
