package session

import "testing"

func TestRegistryReplacesHandle(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()

	first := newFakeClient()
	second := newFakeClient()

	registry.Register("t1", first)
	registry.Register("t1", second)

	if registry.Len() != 1 {
		t.Fatalf("expected exactly one handle per tenant, got %d", registry.Len())
	}
	got, ok := registry.Get("t1")
	if !ok || got != second {
		t.Fatal("expected the replacement handle to win")
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()

	registry.Register("t1", newFakeClient())
	registry.Remove("t1")

	if _, ok := registry.Get("t1"); ok {
		t.Fatal("expected handle gone after remove")
	}
	// Removing again is a no-op.
	registry.Remove("t1")
}
