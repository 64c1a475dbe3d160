package kvstore

import (
	"context"
	"errors"
	"testing"
)

// storeFactories lets the contract tests below run identically against every
// Store implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_GetReturnsErrNotFoundForMissingKey(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			if _, err := s.Get(context.Background(), []string{"a"}, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_PutThenGetRoundtrips(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			if err := s.Put(context.Background(), []string{"users", "alice"}, "age", float64(30)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			v, err := s.Get(context.Background(), []string{"users", "alice"}, "age")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if v != float64(30) {
				t.Errorf("Get = %v, want 30", v)
			}
		})
	}
}

func TestStore_PutOverwritesExistingKey(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			s.Put(context.Background(), []string{"a"}, "k", "v1")
			s.Put(context.Background(), []string{"a"}, "k", "v2")

			v, err := s.Get(context.Background(), []string{"a"}, "k")
			if err != nil {
				t.Fatal(err)
			}
			if v != "v2" {
				t.Errorf("Get = %v, want v2 (overwritten)", v)
			}
		})
	}
}

func TestStore_SearchMatchesNamespacePrefix(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			s.Put(context.Background(), []string{"users", "alice"}, "age", float64(30))
			s.Put(context.Background(), []string{"users", "bob"}, "age", float64(40))
			s.Put(context.Background(), []string{"orders"}, "o1", "order-data")

			items, err := s.Search(context.Background(), []string{"users"}, SearchOptions{})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(items) != 2 {
				t.Fatalf("expected 2 items under users/*, got %d: %+v", len(items), items)
			}
		})
	}
}

func TestStore_SearchAppliesFilterOnMapValues(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			s.Put(context.Background(), []string{"docs"}, "d1", map[string]any{"status": "open"})
			s.Put(context.Background(), []string{"docs"}, "d2", map[string]any{"status": "closed"})

			items, err := s.Search(context.Background(), []string{"docs"}, SearchOptions{Filter: map[string]any{"status": "open"}})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(items) != 1 || items[0].Key != "d1" {
				t.Fatalf("unexpected filtered items: %+v", items)
			}
		})
	}
}

func TestStore_SearchHonorsLimit(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for i := 0; i < 5; i++ {
				s.Put(context.Background(), []string{"ns"}, string(rune('a'+i)), i)
			}
			items, err := s.Search(context.Background(), []string{"ns"}, SearchOptions{Limit: 2})
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != 2 {
				t.Fatalf("expected Limit=2 to cap results, got %d", len(items))
			}
		})
	}
}

func TestStore_SearchEmptyPrefixMatchesEverything(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			s.Put(context.Background(), []string{"a"}, "k1", "v1")
			s.Put(context.Background(), []string{"b"}, "k2", "v2")

			items, err := s.Search(context.Background(), nil, SearchOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != 2 {
				t.Fatalf("expected empty prefix to match all namespaces, got %d", len(items))
			}
		})
	}
}

func TestHasPrefix(t *testing.T) {
	if !hasPrefix([]string{"a", "b", "c"}, []string{"a", "b"}) {
		t.Error("expected [a b] to be a prefix of [a b c]")
	}
	if hasPrefix([]string{"a"}, []string{"a", "b"}) {
		t.Error("a longer prefix than the namespace must not match")
	}
	if !hasPrefix([]string{"a"}, nil) {
		t.Error("an empty prefix must match any namespace")
	}
}

func TestSplitNamespaceKey_RoundTripsWithNamespaceKey(t *testing.T) {
	ns := []string{"users", "alice", "settings"}
	got := splitNamespaceKey(namespaceKey(ns))
	if len(got) != len(ns) {
		t.Fatalf("splitNamespaceKey(namespaceKey(ns)) = %v, want %v", got, ns)
	}
	for i := range ns {
		if got[i] != ns[i] {
			t.Fatalf("splitNamespaceKey(namespaceKey(ns)) = %v, want %v", got, ns)
		}
	}
}

func TestSplitNamespaceKey_EmptyStringYieldsNilNamespace(t *testing.T) {
	if got := splitNamespaceKey(""); got != nil {
		t.Errorf("splitNamespaceKey(\"\") = %v, want nil", got)
	}
}
