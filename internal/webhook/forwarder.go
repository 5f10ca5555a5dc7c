package webhook

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imobcrm/wagate/internal/event"
	"github.com/imobcrm/wagate/internal/pkg/queue"
	"github.com/imobcrm/wagate/internal/webhook/delivery"
)

// Forwarder assina os eventos do gateway e os entrega ao endpoint do
// CRM. A publicação apenas enfileira; os workers fazem a entrega com
// retry fora do caminho dos handlers de sessão.
type Forwarder struct {
	queue    queue.Queue
	delivery *delivery.Delivery
	log      *zap.Logger

	url        string
	secret     string
	numWorkers int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewForwarder(q queue.Queue, d *delivery.Delivery, url, secret string, numWorkers int, log *zap.Logger) *Forwarder {
	if numWorkers <= 0 {
		numWorkers = 2
	}
	return &Forwarder{
		queue:      q,
		delivery:   d,
		log:        log,
		url:        url,
		secret:     secret,
		numWorkers: numWorkers,
	}
}

// Publish implementa event.Publisher. Falha de enfileiramento é
// registrada e descartada: o webhook é melhor-esforço.
func (f *Forwarder) Publish(evt event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := f.queue.Enqueue(ctx, queue.Event{
		ID:        evt.ID,
		Type:      evt.Type,
		Payload:   evt.Payload,
		CreatedAt: evt.CreatedAt,
	})
	if err != nil {
		f.log.Warn("webhook: erro ao enfileirar evento",
			zap.String("eventId", evt.ID),
			zap.Error(err),
		)
	}
}

func (f *Forwarder) Start(ctx context.Context) {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.log.Info("webhook: iniciando workers",
		zap.Int("workers", f.numWorkers),
		zap.String("url", f.url),
	)

	for i := 0; i < f.numWorkers; i++ {
		f.wg.Add(1)
		go f.runWorker(i)
	}
}

func (f *Forwarder) Stop() {
	if f.cancel == nil {
		return
	}
	f.log.Info("webhook: encerrando workers")
	f.cancel()
	f.wg.Wait()
	f.log.Info("webhook: workers encerrados")
}

func (f *Forwarder) runWorker(id int) {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
			evt, err := f.queue.Dequeue(f.ctx, time.Second)
			if err != nil {
				if f.ctx.Err() != nil {
					return
				}
				f.log.Error("webhook: erro ao desenfileirar", zap.Int("workerId", id), zap.Error(err))
				continue
			}
			if evt == nil {
				continue
			}
			f.deliver(id, evt)
		}
	}
}

func (f *Forwarder) deliver(workerID int, evt *queue.Event) {
	payload := map[string]interface{}{
		"id":        evt.ID,
		"type":      evt.Type,
		"payload":   evt.Payload,
		"createdAt": evt.CreatedAt,
	}

	if err := f.delivery.Deliver(f.ctx, f.url, f.secret, payload); err != nil {
		f.log.Error("webhook: falha na entrega",
			zap.Int("workerId", workerID),
			zap.String("eventId", evt.ID),
			zap.Error(err),
		)
		return
	}

	f.log.Debug("webhook: evento entregue",
		zap.Int("workerId", workerID),
		zap.String("eventId", evt.ID),
	)
}
