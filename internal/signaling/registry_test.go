package signaling

import (
	"reflect"
	"testing"
)

func TestRegistryDispatchOrder(t *testing.T) {
	var r Registry
	var got []string

	r.Subscribe(func(sig Signal) { got = append(got, "first:"+sig.Event()) })
	r.Subscribe(func(sig Signal) { got = append(got, "second:"+sig.Event()) })

	r.Dispatch(ChatReceive{Text: "a"})
	r.Dispatch(Candidate{Init: []byte(`{}`)})

	want := []string{
		"first:" + EventReceiveMessage,
		"second:" + EventReceiveMessage,
		"first:" + EventICECandidate,
		"second:" + EventICECandidate,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSubscriptionClose(t *testing.T) {
	var r Registry
	calls := 0

	sub := r.Subscribe(func(Signal) { calls++ })
	other := r.Subscribe(func(Signal) {})
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	sub.Close()
	sub.Close()

	if r.Len() != 1 {
		t.Fatalf("Len() = %d after Close, want 1", r.Len())
	}
	r.Dispatch(ChatReceive{Text: "x"})
	if calls != 0 {
		t.Errorf("closed subscription received %d signals", calls)
	}

	other.Close()
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestSubscriptionClosedByAnotherHandler(t *testing.T) {
	var r Registry
	var second *Subscription
	calls := 0

	r.Subscribe(func(Signal) { second.Close() })
	second = r.Subscribe(func(Signal) { calls++ })

	r.Dispatch(ChatReceive{Text: "x"})
	if calls != 0 {
		t.Errorf("subscription closed mid-dispatch still received the signal")
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("brave-otter"); got != "warpcall/brave-otter/signal" {
		t.Errorf("Topic() = %q", got)
	}
}
