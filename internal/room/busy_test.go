package room

import (
	"errors"
	"slices"
	"testing"
)

func TestBusyAcquireRelease(t *testing.T) {
	var b Busy

	release, err := b.Acquire(ActionFinish)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := b.Acquire(ActionFinish); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrBusy", err)
	}

	other, err := b.Acquire(ActionMessage)
	if err != nil {
		t.Fatalf("Acquire(other) error = %v", err)
	}
	if got := b.Active(); !slices.Equal(got, []Action{ActionFinish, ActionMessage}) {
		t.Fatalf("Active() = %v", got)
	}

	release()
	release()
	other()

	if b.IsBusy(ActionFinish) || len(b.Active()) != 0 {
		t.Fatalf("flags not released: %v", b.Active())
	}

	// A stale release must not clear a newer holder.
	again, _ := b.Acquire(ActionFinish)
	release()
	if !b.IsBusy(ActionFinish) {
		t.Fatal("stale release cleared the flag")
	}
	again()
}
