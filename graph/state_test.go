package graph

import "testing"

func TestReplace(t *testing.T) {
	prev := TestState{Value: "old", Counter: 1}
	delta := TestState{Value: "new"}

	got := Replace(prev, delta)
	if got.Value != "new" || got.Counter != 0 {
		t.Errorf("Replace() = %+v, want delta unchanged", got)
	}
}

func TestDeepCopy(t *testing.T) {
	t.Run("copies nested slices", func(t *testing.T) {
		original := TestState{Value: "v", Path: []string{"a", "b"}}

		copied, err := deepCopy(original)
		if err != nil {
			t.Fatalf("deepCopy: %v", err)
		}

		copied.Path[0] = "mutated"
		if original.Path[0] != "a" {
			t.Error("mutating the copy changed the original")
		}
		if copied.Value != "v" {
			t.Errorf("Value = %q", copied.Value)
		}
	})

	t.Run("unserializable state", func(t *testing.T) {
		type bad struct {
			Ch chan int
		}
		if _, err := deepCopy(bad{Ch: make(chan int)}); err == nil {
			t.Error("expected marshal error")
		}
	})
}
