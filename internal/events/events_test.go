package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicAttempt)
	b.Publish(TopicAttempt, "hello")

	select {
	case got := <-ch:
		if got != "hello" {
			t.Fatalf("expected hello, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New()
	b.Publish(TopicStatus, "nobody listening")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicCircuit)
	b.Unsubscribe(TopicCircuit, ch)
	if b.SubscriberCount(TopicCircuit) != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
	b.Publish(TopicCircuit, "should be dropped")
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicRequest)
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(TopicRequest, i)
	}
	// Draining should still yield the buffer's worth of events without the
	// publisher having blocked above.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count == 0 {
				t.Fatal("expected at least some buffered events to be deliverable")
			}
			return
		}
	}
}
