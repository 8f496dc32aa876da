package events

import "testing"

func TestPublishFanOutToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(TopicJobCompleted)
	b := bus.Subscribe(TopicJobCompleted)

	bus.Publish(TopicJobCompleted, "payload-1")

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.Topic != TopicJobCompleted || evt.Payload != "payload-1" {
				t.Fatalf("got %+v", evt)
			}
		default:
			t.Fatal("expected subscriber to receive the published event")
		}
	}
}

func TestPublishOnlyReachesMatchingTopic(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicJobCompleted)

	bus.Publish(TopicJobFailed, "other")

	select {
	case evt := <-ch:
		t.Fatalf("did not expect an event, got %+v", evt)
	default:
	}
}

func TestPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	bus := NewBus()
	bus.Publish(TopicIncidentRaised, "unsubscribed")
}

func TestPublishSkipsFullSubscriberRatherThanBlocking(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicAgentProgress)

	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(TopicAgentProgress, i)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != subscriberBuffer {
				t.Fatalf("got %d buffered events, want %d", count, subscriberBuffer)
			}
			return
		}
	}
}
