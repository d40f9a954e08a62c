package events

import (
	"net"
	"testing"
	"time"

	"github.com/katrip/ripd/route"
)

func TestSubscribePublishDelivers(t *testing.T) {
	var b Bus
	sub := b.Subscribe()

	want := Event{
		Kind:    Added,
		Network: net.IPv4(192, 168, 1, 0),
		Mask:    net.CIDRMask(24, 32),
		Metric:  1,
		Source:  route.Dynamic,
		At:      time.Unix(0, 0),
	}
	b.Publish(want)

	select {
	case got := <-sub:
		if got.Kind != want.Kind || got.Metric != want.Metric {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	default:
		t.Fatalf("expected an event to be immediately available")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	var b Bus
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	b.Publish(Event{Kind: Removed})

	if _, ok := <-sub; ok {
		t.Fatalf("expected the channel to be closed after unsubscribe")
	}
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	var b Bus
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(Event{Kind: Poisoned})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Kind != Poisoned {
				t.Fatalf("expected Poisoned, got %v", ev.Kind)
			}
		default:
			t.Fatalf("expected every subscriber to receive the event")
		}
	}
}

func TestPublishDropsOnFullBufferRatherThanBlocking(t *testing.T) {
	var b Bus
	sub := b.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Kind: Updated, Metric: i})
	}

	if len(sub) != subscriberBuffer {
		t.Fatalf("expected the buffer to be full at %d, got %d", subscriberBuffer, len(sub))
	}
}

func TestUnsubscribeUnknownChannelIsNoop(t *testing.T) {
	var b Bus
	other := make(chan Event)
	b.Unsubscribe(other)
}
