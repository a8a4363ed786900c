package local

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// openTestStore opens a SQLite store in a temporary directory.
func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "local.db")
	s, err := Open(path, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// stores returns one instance of every Store implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, _ := openTestStore(t)
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func mustSet(t *testing.T, s Store, key, value string) {
	t.Helper()
	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set %s failed: %v", key, err)
	}
}

func TestStore_MissingKey(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if v, ok := s.Get("roster-gold"); ok || v != "" {
				t.Errorf("Get missing key = %q, %v; want \"\", false", v, ok)
			}
		})
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			mustSet(t, s, "config-pin", `"1234"`)
			mustSet(t, s, "config-pin", `"9876"`)

			v, ok := s.Get("config-pin")
			if !ok || v != `"9876"` {
				t.Errorf("Get = %q, %v; want the second value", v, ok)
			}

			keys, err := s.Keys()
			if err != nil {
				t.Fatalf("Keys failed: %v", err)
			}
			if !reflect.DeepEqual(keys, []string{"config-pin"}) {
				t.Errorf("Keys = %v, want [config-pin]", keys)
			}
		})
	}
}

func TestLoad_CorruptedValueIsAbsent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			mustSet(t, s, "roster-gold", "{not json")

			v, ok := Load[[]map[string]any](s, "roster-gold")
			if ok || v != nil {
				t.Errorf("Load of a corrupt record = %v, %v; want nil, false", v, ok)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	type athlete struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			want := []athlete{{ID: "a1", Name: "Ada"}}
			if err := Save(s, "roster-gold", want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, ok := Load[[]athlete](s, "roster-gold")
			if !ok {
				t.Fatal("Load missed a saved record")
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Load = %+v, want %+v", got, want)
			}
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustSet(t, s, "roster-gold", `[{"id":"a1"}]`)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if v, ok := reopened.Get("roster-gold"); !ok || v != `[{"id":"a1"}]` {
		t.Errorf("Get after reopen = %q, %v", v, ok)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	s, _ := openTestStore(t)

	mustSet(t, s, "a", "12345")
	mustSet(t, s, "b", "123")

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Keys != 2 {
		t.Errorf("Keys = %d, want 2", st.Keys)
	}
	if st.ValueSize != 8 {
		t.Errorf("ValueSize = %d, want 8", st.ValueSize)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero")
	}
}

func TestStore_Closed(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			mustSet(t, s, "k", "v")
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			if _, ok := s.Get("k"); ok {
				t.Error("Get on a closed store must miss")
			}
			if err := s.Set("k", "v2"); !errors.Is(err, ErrClosed) {
				t.Errorf("Set on a closed store = %v, want ErrClosed", err)
			}
		})
	}
}
