package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingHook) Notify(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func TestBusFansOutToAllHooks(t *testing.T) {
	h1 := &recordingHook{}
	h2 := &recordingHook{}
	bus := NewBus(h1, h2, NoopHook{})

	evt := Event{Type: EventListingPriceChanged, Key: "L1", OccurredAt: time.Now()}
	bus.Fire(context.Background(), evt)

	require.Len(t, h1.events, 1)
	require.Len(t, h2.events, 1)
	assert.Equal(t, "L1", h1.events[0].Key)
}

type panickyHook struct{}

func (panickyHook) Notify(context.Context, Event) { panic("boom") }

func TestBusRecoversFromPanickingHook(t *testing.T) {
	h := &recordingHook{}
	bus := NewBus(panickyHook{}, h)

	assert.NotPanics(t, func() {
		bus.Fire(context.Background(), Event{Type: EventListingDeleted, Key: "L2"})
	})
	require.Len(t, h.events, 1)
}

func TestWebhookHookPostsJSONBody(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, string(EventListingStatusChanged), r.Header.Get("X-MLS-Worker-Event"))
		w.WriteHeader(http.StatusOK)
		received <- Event{}
	}))
	defer srv.Close()

	hook := NewWebhookHook(srv.URL)
	hook.Notify(context.Background(), Event{Type: EventListingStatusChanged, Key: "L3"})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookHookDoesNotPanicOnFailure(t *testing.T) {
	hook := NewWebhookHook("http://127.0.0.1:0")
	assert.NotPanics(t, func() {
		hook.Notify(context.Background(), Event{Type: EventListingDeleted})
	})
}
