package event

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return Event{}
}

func TestBus_PublishToSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	defer b.Stop()

	_, ch1 := b.Subscribe(ScanProgress)
	_, ch2 := b.Subscribe(ScanProgress)
	_, other := b.Subscribe(TxStateChange)

	b.Publish(Event{Type: ScanProgress, Data: ScanProgressData{Percent: 50}})

	assert.Equal(t, 50, receive(t, ch1).Data.(ScanProgressData).Percent)
	assert.Equal(t, 50, receive(t, ch2).Data.(ScanProgressData).Percent)
	select {
	case <-other:
		t.Fatalf("unexpected event for other type")
	default:
	}
}

func TestBus_EmitIsAsync(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	defer b.Stop()

	got := make(chan Event, 1)
	b.SubscribeFunc(Reauthenticate, func(e Event) { got <- e })
	b.Emit(Reauthenticate, nil)

	evt := receive(t, got)
	assert.Equal(t, Reauthenticate, evt.Type)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	defer b.Stop()

	id, ch := b.Subscribe(TxStateChange)
	b.Unsubscribe(TxStateChange, id)
	_, ok := <-ch
	assert.False(t, ok)

	// публикация без подписчиков не паникует
	b.Publish(Event{Type: TxStateChange})
}

func TestBus_Metrics(t *testing.T) {
	defer goleak.VerifyNone(t)
	reg := prometheus.NewRegistry()
	b := NewBus(reg, nil)
	defer b.Stop()

	b.Publish(Event{Type: TxInProgress})
	b.Publish(Event{Type: TxInProgress})
	assert.Equal(t, 2.0, testutil.ToFloat64(b.metrics.events.WithLabelValues(string(TxInProgress))))
}

func TestBus_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBus(nil, nil)
	_, ch := b.Subscribe(ScanProgress)
	b.Stop()
	b.Stop()
	_, ok := <-ch
	assert.False(t, ok)
	assert.False(t, b.PublishAsync(Event{Type: ScanProgress}))
}
