package shuffle

import (
	"sort"
	"testing"
)

func TestBasicIsPermutation(t *testing.T) {
	t.Parallel()
	in := []string{"a", "b", "c", "d", "e"}
	out, err := Basic(in, nil)
	if err != nil {
		t.Fatalf("Basic: %v", err)
	}
	if &in[0] == &out[0] {
		t.Fatal("input slice aliased")
	}
	sorted := append([]string(nil), out...)
	sort.Strings(sorted)
	for i, want := range in {
		if sorted[i] != want {
			t.Fatalf("not a permutation: %v", out)
		}
	}
}

func TestBasicRejectsEmptyInput(t *testing.T) {
	t.Parallel()
	if _, err := Basic(nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestRegistryFallsBackToBasic(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if fn := r.Get("does-not-exist"); fn == nil {
		t.Fatal("no fallback for unknown algorithm")
	}
	if fn := r.Get(""); fn == nil {
		t.Fatal("no fallback for empty name")
	}
}

func TestRegistryRegisterAndNames(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("reverse", func(uris []string, _ map[string]any) ([]string, error) {
		out := make([]string, len(uris))
		for i, u := range uris {
			out[len(uris)-1-i] = u
		}
		return out, nil
	})

	fn := r.Get("reverse")
	out, err := fn([]string{"x", "y"}, nil)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if out[0] != "y" || out[1] != "x" {
		t.Fatalf("out = %v", out)
	}

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
}
