package event

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

type counter struct {
	calls []uint64
}

func (c *counter) onAdd(ev *Event, p Payload) (any, error) {
	c.calls = append(c.calls, p.ID)
	return len(c.calls), nil
}

func TestFireOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	var order []string

	a := NewFunc(MailAdd, func(ev *Event, p Payload) (any, error) {
		order = append(order, "A")
		return 42, nil
	})
	b := NewFunc(MailAdd, func(ev *Event, p Payload) (any, error) {
		order = append(order, "B")
		return 18, nil
	})
	bus.Add(a)
	bus.Add(b)

	if err := bus.Fire(MailAdd, Payload{ID: 100001}); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("order = %v", order)
	}
	if a.ReturnValue() != 42 || b.ReturnValue() != 18 {
		t.Errorf("return values = %v, %v", a.ReturnValue(), b.ReturnValue())
	}
}

func TestFireOtherTrigger(t *testing.T) {
	bus := NewBus(nil)
	called := false
	bus.Add(NewFunc(MailAddPost, func(ev *Event, p Payload) (any, error) {
		called = true
		return nil, nil
	}))
	if err := bus.Fire(MailAddPre, Payload{}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("handler for another trigger ran")
	}
}

func TestFireStopsOnError(t *testing.T) {
	bus := NewBus(nil)
	boom := errors.New("boom")
	ranSecond := false

	bus.Add(NewFunc(MailAddPre, func(ev *Event, p Payload) (any, error) {
		return nil, boom
	}))
	bus.Add(NewFunc(MailAddPre, func(ev *Event, p Payload) (any, error) {
		ranSecond = true
		return nil, nil
	}))

	err := bus.Fire(MailAddPre, Payload{Folder: "INBOX"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	var he *HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("err is %T, want *HandlerError", err)
	}
	if he.Trigger != MailAddPre || he.Index != 0 {
		t.Errorf("HandlerError = %+v", he)
	}
	if ranSecond {
		t.Error("dispatch continued after error")
	}
}

func TestMethodValueHandler(t *testing.T) {
	bus := NewBus(nil)
	c := &counter{}
	ev := NewFunc(MailAddPost, c.onAdd)
	bus.Add(ev)

	bus.Fire(MailAddPost, Payload{ID: 7})
	bus.Fire(MailAddPost, Payload{ID: 8})

	if len(c.calls) != 2 || c.calls[1] != 8 {
		t.Errorf("calls = %v", c.calls)
	}
	if ev.ReturnValue() != 2 {
		t.Errorf("ReturnValue = %v, want 2", ev.ReturnValue())
	}
}

func TestNilBus(t *testing.T) {
	var bus *Bus
	if err := bus.Fire(MailAdd, Payload{}); err != nil {
		t.Errorf("nil bus Fire: %v", err)
	}
	if bus.Len(MailAdd) != 0 {
		t.Error("nil bus Len != 0")
	}
}

func TestTriggerString(t *testing.T) {
	if MailAddPre.String() != "MAIL_ADD_PRE" || Trigger(99).String() != "Trigger(99)" {
		t.Errorf("String: %s %s", MailAddPre, Trigger(99))
	}
}
