package bus

import "testing"

func TestDeliversInEmissionOrder(t *testing.T) {
	b := New()
	var got []string
	unsubscribe := b.Subscribe(func(e Event) {
		switch {
		case e.DraftUpdated != nil:
			got = append(got, "update:"+e.DraftUpdated.ID)
		case e.RefreshDrafts != nil:
			got = append(got, "refresh")
		}
	})
	defer unsubscribe()

	b.EmitDraftUpdated(DraftUpdated{ID: "p1"})
	b.EmitRefreshDrafts()
	b.EmitDraftUpdated(DraftUpdated{ID: "p2"})

	want := []string{"update:p1", "refresh", "update:p2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b := New()
	b.EmitRefreshDrafts()

	delivered := 0
	unsubscribe := b.Subscribe(func(Event) { delivered++ })
	defer unsubscribe()

	if delivered != 0 {
		t.Fatalf("late subscriber received %d buffered events", delivered)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	delivered := 0
	unsubscribe := b.Subscribe(func(Event) { delivered++ })

	b.EmitRefreshDrafts()
	unsubscribe()
	b.EmitRefreshDrafts()

	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
}

func TestMultipleListenersEachReceiveOnce(t *testing.T) {
	b := New()
	counts := make([]int, 3)
	for i := range counts {
		i := i
		defer b.Subscribe(func(Event) { counts[i]++ })()
	}

	b.EmitDraftUpdated(DraftUpdated{ID: "p1"})

	for i, n := range counts {
		if n != 1 {
			t.Errorf("listener %d received %d events", i, n)
		}
	}
}
