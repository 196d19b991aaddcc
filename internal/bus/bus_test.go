package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, domain.TopicEventsIngested, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicEventsIngested, []byte(`{"count":5}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != `{"count":5}` {
			t.Errorf("payload = %s", msg.Payload)
		}
		if msg.Topic != domain.TopicEventsIngested {
			t.Errorf("topic = %s", msg.Topic)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Errorf("envelope incomplete: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var alerts int32
	sub, err := b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt32(&alerts, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicInsightsScored, []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&alerts); got != 0 {
		t.Errorf("alert subscriber got %d messages from another topic", got)
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var count int32
	for i := 0; i < 3; i++ {
		sub, err := b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		defer sub.Unsubscribe()
	}

	if err := b.Publish(ctx, domain.TopicAlert, []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&count) < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 3 subscribers received", atomic.LoadInt32(&count))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var count int32
	sub, err := b.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := b.Publish(ctx, domain.TopicAlert, []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("unsubscribed handler got %d messages", got)
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Publish(ctx, domain.TopicAlert, []byte("x")); err == nil {
		t.Error("publish on closed bus should fail")
	}
	if _, err := b.Subscribe(ctx, domain.TopicAlert, nil); err == nil {
		t.Error("subscribe on closed bus should fail")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("ping on closed bus should fail")
	}
	// Double close is fine.
	if err := b.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestChannelBusRequestReply(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Responder echoes the payload back on the reply topic embedded in
	// the request message's topic suffix convention.
	sub, err := b.Subscribe(ctx, "score.request", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	// No responder publishes a reply: the request must time out with the
	// context, not hang.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	if _, err := b.Request(shortCtx, "score.request", []byte("x")); err == nil {
		t.Error("request without reply should fail")
	}
}

func TestNewFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b.Close()

	if _, err := New(domain.EventBusConfig{Type: "bogus"}); err == nil {
		t.Fatal("expected error for unknown bus type")
	}
}
