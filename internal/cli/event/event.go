// Package event — шина событий, через которую ядро кошелька сообщает о прогрессе
// сканирования, смене состояний транзакций и необходимости повторного входа.
package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/model"
)

const (
	subscriberQueueSize = 32
	asyncQueueSize      = 256
	asyncWorkers        = 2
)

type EventType string

const (
	ScanProgress   EventType = "scan_progress"
	TxStateChange  EventType = "tx_state_change"
	TxInProgress   EventType = "tx_in_progress_notification"
	Reauthenticate EventType = "reauthenticate"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// ScanProgressData — процент выполненного сканирования.
type ScanProgressData struct {
	Percent int    `json:"percent"`
	Height  uint32 `json:"height"`
}

// TxStateData сопровождает tx_state_change и tx_in_progress_notification.
type TxStateData struct {
	PointerID     string        `json:"id"`
	TransactionID string        `json:"tx_id,omitempty"`
	State         model.TxState `json:"state"`
	Error         string        `json:"error,omitempty"`
}

// Emitter — непрозрачный приёмник событий.
type Emitter interface {
	Emit(t EventType, data any)
}

// Nop отбрасывает события.
type Nop struct{}

func (Nop) Emit(EventType, any) {}

type SubscriberID int

// Bus доставляет события подписчикам по типу. Подписчик получает события через канал.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType]map[SubscriberID]*subscriber
	lastID SubscriberID
	logger *zap.SugaredLogger

	metrics *busMetrics

	asyncCh  chan Event
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type subscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func (s *subscriber) deliver(evt Event) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panic: %v", r)
		}
	}()
	s.ch <- evt
	return nil
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type busMetrics struct {
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewBus создаёт шину. registry может быть nil — тогда метрики не собираются.
func NewBus(registry prometheus.Registerer, logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Bus{
		subs:    map[EventType]map[SubscriberID]*subscriber{},
		logger:  logger,
		asyncCh: make(chan Event, asyncQueueSize),
		stopCh:  make(chan struct{}),
	}
	if registry != nil {
		b.metrics = &busMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "avail_events_total",
				Help: "Events published by type",
			}, []string{"type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "avail_event_delivery_errors_total",
				Help: "Failed or dropped event deliveries by type",
			}, []string{"type"}),
		}
		registry.MustRegister(b.metrics.events, b.metrics.failures)
	}
	for range asyncWorkers {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case evt := <-b.asyncCh:
			b.Publish(evt)
		}
	}
}

// Subscribe возвращает канал событий указанного типа.
func (b *Bus) Subscribe(t EventType) (SubscriberID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	sub := &subscriber{ch: make(chan Event, subscriberQueueSize)}
	if b.subs[t] == nil {
		b.subs[t] = map[SubscriberID]*subscriber{}
	}
	b.subs[t][b.lastID] = sub
	return b.lastID, sub.ch
}

// SubscribeFunc вызывает fn для каждого события в отдельной горутине.
func (b *Bus) SubscribeFunc(t EventType, fn func(Event)) SubscriberID {
	id, ch := b.Subscribe(t)
	go func() {
		for evt := range ch {
			fn(evt)
		}
	}()
	return id
}

func (b *Bus) Unsubscribe(t EventType, id SubscriberID) {
	b.mu.Lock()
	sub, ok := b.subs[t][id]
	if ok {
		delete(b.subs[t], id)
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish синхронно доставляет событие всем подписчикам его типа.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	targets := make(map[SubscriberID]*subscriber, len(b.subs[evt.Type]))
	for id, s := range b.subs[evt.Type] {
		targets[id] = s
	}
	b.mu.RUnlock()

	for id, s := range targets {
		if err := s.deliver(evt); err != nil {
			b.logger.Debugw("event delivery failed", "type", evt.Type, "error", err)
			b.Unsubscribe(evt.Type, id)
			if b.metrics != nil {
				b.metrics.failures.WithLabelValues(string(evt.Type)).Inc()
			}
		}
	}
	if b.metrics != nil {
		b.metrics.events.WithLabelValues(string(evt.Type)).Inc()
	}
}

// PublishAsync ставит событие в очередь; при переполнении событие отбрасывается.
func (b *Bus) PublishAsync(evt Event) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}
	select {
	case b.asyncCh <- evt:
		return true
	default:
		b.logger.Warnw("event queue full, dropping event", "type", evt.Type)
		if b.metrics != nil {
			b.metrics.failures.WithLabelValues(string(evt.Type)).Inc()
		}
		return false
	}
}

// Emit реализует Emitter: событие доставляется асинхронно, чтобы не блокировать сканер.
func (b *Bus) Emit(t EventType, data any) {
	b.PublishAsync(Event{Type: t, Timestamp: time.Now(), Data: data})
}

// Stop останавливает воркеры и закрывает каналы подписчиков.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
		b.mu.Lock()
		subs := b.subs
		b.subs = map[EventType]map[SubscriberID]*subscriber{}
		b.mu.Unlock()
		for _, byID := range subs {
			for _, s := range byID {
				s.close()
			}
		}
	})
}
