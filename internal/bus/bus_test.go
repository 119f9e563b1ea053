package bus

import (
	"context"
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	if got := CheckInResponse("dev-7"); got != "attendance/check-in/response/dev-7" {
		t.Errorf("check-in response topic %q", got)
	}
	if got := CheckOutResponse("dev-7"); got != "attendance/check-out/response/dev-7" {
		t.Errorf("check-out response topic %q", got)
	}
	if got := Control("dev-7"); got != "devices/dev-7/control" {
		t.Errorf("control topic %q", got)
	}
}

func TestMemoryBus(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	var got []string
	if err := b.Subscribe("a/b", func(_ context.Context, topic string, payload []byte) error {
		got = append(got, topic+" "+string(payload))
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := b.Publish(ctx, "a/b", map[string]bool{"ok": true}); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "other", "x"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != `a/b {"ok":true}` {
		t.Fatalf("delivered %v", got)
	}
	if n := len(b.Published("other")); n != 1 {
		t.Fatalf("recorded %d payloads on other", n)
	}
}

func TestMemoryDeliverPropagatesHandlerError(t *testing.T) {
	b := NewMemory()
	boom := errors.New("boom")
	_ = b.Subscribe("in", func(context.Context, string, []byte) error { return boom })
	if err := b.Deliver(context.Background(), "in", []byte(`{}`)); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
