package tracker

import (
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("empty registry", func(t *testing.T) {
		if got := r.List(); len(got) != 0 {
			t.Errorf("List() = %v, want empty", got)
		}
		if got := r.Get("bugzilla"); got != nil {
			t.Error("Get() returned non-nil for unregistered tracker")
		}
		_, err := r.New("bugzilla")
		if err == nil {
			t.Error("New() should fail for unregistered tracker")
		}
	})

	t.Run("register and retrieve", func(t *testing.T) {
		r.Register("mock", func() Facade { return nil })

		if got := r.Get("mock"); got == nil {
			t.Error("Get() returned nil for registered tracker")
		}
		if got := r.Get("missing"); got != nil {
			t.Error("Get() returned non-nil for unregistered tracker")
		}
		if !r.IsRegistered("mock") {
			t.Error("IsRegistered(mock) = false, want true")
		}
	})

	t.Run("list returns sorted names", func(t *testing.T) {
		r.Register("zebra", func() Facade { return nil })
		r.Register("alpha", func() Facade { return nil })

		got := r.List()
		if len(got) < 2 {
			t.Fatalf("List() returned %d items, want at least 2", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i] < got[i-1] {
				t.Errorf("List() not sorted: %v", got)
				break
			}
		}
	})

	t.Run("New returns new instance", func(t *testing.T) {
		callCount := 0
		r.Register("counter", func() Facade {
			callCount++
			return nil
		})

		_, _ = r.New("counter")
		_, _ = r.New("counter")
		if callCount != 2 {
			t.Errorf("factory called %d times, want 2", callCount)
		}
	})

	t.Run("clear", func(t *testing.T) {
		r.Clear()
		if got := r.List(); len(got) != 0 {
			t.Errorf("List() after Clear = %v, want empty", got)
		}
	})
}
