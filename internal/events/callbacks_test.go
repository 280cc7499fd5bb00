package events

import (
	"errors"
	"testing"
)

func TestInvoke_OnceRemovedForAnySize(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		bus := NewCallbackBus[int]()
		for i := 0; i < n; i++ {
			bus.Subscribe("onChat", i, true)
		}
		bus.Subscribe("onChat", 100, false)

		calls, released := bus.Invoke("onChat", func(h int) error {
			if h%2 == 1 {
				return errors.New("boom")
			}
			return nil
		})
		if calls != n+1 {
			t.Fatalf("n=%d calls=%d", n, calls)
		}
		if len(released) != n {
			t.Fatalf("n=%d released=%v", n, released)
		}
		if got := bus.Count("onChat"); got != 1 {
			t.Fatalf("n=%d remaining=%d want 1", n, got)
		}
	}
}

func TestInvoke_PrunesEmptiedEvent(t *testing.T) {
	bus := NewCallbackBus[string]()
	bus.Subscribe("onConsole", "a", true)
	bus.Invoke("onConsole", func(string) error { return nil })

	if bus.HasSubscribers("onConsole") {
		t.Fatal("event should be pruned")
	}
	if len(bus.Events()) != 0 {
		t.Fatalf("events=%v", bus.Events())
	}
}

func TestHasSubscribers_MatchesInvoke(t *testing.T) {
	bus := NewCallbackBus[int]()
	check := func(label string) {
		has := bus.HasSubscribers("onSetPos")
		calls, _ := bus.Invoke("onSetPos", func(int) error { return nil })
		if has != (calls > 0) {
			t.Fatalf("%s: has=%v calls=%d", label, has, calls)
		}
	}

	check("empty")
	bus.Subscribe("onSetPos", 1, true)
	check("once")
	check("after once fired")
	tok := bus.Subscribe("onSetPos", 2, false)
	check("persistent")
	bus.Unsubscribe(tok)
	check("after unsubscribe")
}

func TestUnsubscribe_UnknownIsNoop(t *testing.T) {
	bus := NewCallbackBus[int]()
	if _, ok := bus.Unsubscribe(Token(42)); ok {
		t.Fatal("unknown token reported removed")
	}
	if got := bus.UnsubscribeAll("nothing"); got != nil {
		t.Fatalf("got %v", got)
	}
	if got := bus.UnsubscribeEverything(); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestUnsubscribeAll_ReturnsHandles(t *testing.T) {
	bus := NewCallbackBus[int]()
	bus.Subscribe("a", 1, false)
	bus.Subscribe("a", 2, true)
	bus.Subscribe("b", 3, false)

	got := bus.UnsubscribeAll("a")
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v", got)
	}
	if bus.HasSubscribers("a") || !bus.HasSubscribers("b") {
		t.Fatal("wrong event removed")
	}
	if all := bus.UnsubscribeEverything(); len(all) != 1 || all[0] != 3 {
		t.Fatalf("all=%v", all)
	}
}

func TestInvoke_OrderAndReentrancy(t *testing.T) {
	bus := NewCallbackBus[int]()
	var order []int
	var self Token
	self = bus.Subscribe("onChat", 1, false)
	bus.Subscribe("onChat", 2, false)
	bus.Subscribe("onChat", 3, false)

	bus.Invoke("onChat", func(h int) error {
		order = append(order, h)
		if h == 1 {
			bus.Unsubscribe(self)
			bus.Subscribe("onChat", 4, false)
		}
		return nil
	})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order=%v", order)
	}
	if bus.Count("onChat") != 3 {
		t.Fatalf("count=%d want 3", bus.Count("onChat"))
	}
}

func TestInvoke_PanicIsContained(t *testing.T) {
	bus := NewCallbackBus[int]()
	var errs []*SubscriberError
	bus.OnError = func(e *SubscriberError) { errs = append(errs, e) }
	bus.Subscribe("onVariant", 1, true)
	bus.Subscribe("onVariant", 2, false)

	reached := false
	bus.Invoke("onVariant", func(h int) error {
		if h == 1 {
			panic("bad script")
		}
		reached = true
		return nil
	})

	if !reached {
		t.Fatal("second subscriber skipped")
	}
	if len(errs) != 1 || errs[0].Event != "onVariant" || !IsSubscriberError(errs[0]) {
		t.Fatalf("errs=%v", errs)
	}
	if bus.Count("onVariant") != 1 {
		t.Fatal("once subscriber survived a panic")
	}
}
