package mqtt

import (
	"sync"
	"testing"

	"beacon-guard/internal/ingest"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []ingest.Message
}

func (r *recordingSink) Submit(msg ingest.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return true
}

func TestDeliverDecodesAndSubmits(t *testing.T) {
	sink := &recordingSink{}
	sub, err := NewSubscriber("tcp://localhost:1883", ingest.Topics([]int{1}), sink)
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}

	sub.Deliver("anchor1/rssi", []byte(`{"mac":"AA:BB","rssi":-60,"esp":1}`))
	sub.Deliver("anchor1/rssi", []byte(`not json`))

	if len(sink.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sink.messages))
	}
	rssi, ok := sink.messages[0].(ingest.RSSIMessage)
	if !ok || rssi.MAC != "aa:bb" || rssi.AnchorID != 1 {
		t.Fatalf("unexpected message %+v", sink.messages[0])
	}
}

func TestNewSubscriberValidation(t *testing.T) {
	sink := &recordingSink{}
	if _, err := NewSubscriber("", []string{"a"}, sink); err == nil {
		t.Fatalf("expected broker error")
	}
	if _, err := NewSubscriber("tcp://x:1883", nil, sink); err == nil {
		t.Fatalf("expected topics error")
	}
	if _, err := NewSubscriber("tcp://x:1883", []string{"a"}, nil); err == nil {
		t.Fatalf("expected sink error")
	}
}
