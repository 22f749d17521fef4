package database

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"scoresync/internal/cloud"
	"scoresync/internal/testutil"
)

// newTestStore creates a new in-memory store with schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", testutil.FixedClock())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestSQLiteStore_GetPut(t *testing.T) {
	t.Run("returns false when key not found", func(t *testing.T) {
		s := newTestStore(t)

		var got cloud.Template
		ok, err := s.Get(cloud.TableTemplates, "missing", &got)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok {
			t.Error("Get() = true, want false")
		}
	})

	t.Run("put replaces existing value", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.Put(cloud.TableTemplates, "t1", "", cloud.Template{ID: "t1", Name: "Catan"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Put(cloud.TableTemplates, "t1", "", cloud.Template{ID: "t1", Name: "Catan v2"}); err != nil {
			t.Fatalf("second Put() error = %v", err)
		}

		var got cloud.Template
		ok, err := s.Get(cloud.TableTemplates, "t1", &got)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !ok {
			t.Fatal("Get() = false, want true")
		}
		if got.Name != "Catan v2" {
			t.Errorf("Name = %q, want %q", got.Name, "Catan v2")
		}
	})

	t.Run("tables are independent", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.Put(cloud.TableTemplates, "k", "", "template"); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		var got string
		ok, err := s.Get(cloud.TableHistory, "k", &got)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok {
			t.Error("Get() found key from another table")
		}
	})
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put(cloud.TableSessionFolders, "s1", "", "folder-1"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete(cloud.TableSessionFolders, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(cloud.TableSessionFolders, "s1"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}

	var got string
	if ok, _ := s.Get(cloud.TableSessionFolders, "s1", &got); ok {
		t.Error("Get() found deleted key")
	}
}

func TestSQLiteStore_QueryByIndex(t *testing.T) {
	s := newTestStore(t)

	records := []cloud.HistoryRecord{
		{ID: "h1", TemplateID: "catan"},
		{ID: "h2", TemplateID: "azul"},
		{ID: "h3", TemplateID: "catan"},
	}
	for _, r := range records {
		if err := s.Put(cloud.TableHistory, r.ID, r.TemplateID, r); err != nil {
			t.Fatalf("Put(%s) error = %v", r.ID, err)
		}
	}

	tests := []struct {
		name  string
		index string
		want  []string
	}{
		{name: "matching index", index: "catan", want: []string{"h1", "h3"}},
		{name: "empty index returns all", index: "", want: []string{"h1", "h2", "h3"}},
		{name: "unknown index", index: "carcassonne", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := s.QueryByIndex(cloud.TableHistory, tt.index)
			if err != nil {
				t.Fatalf("QueryByIndex() error = %v", err)
			}
			if len(raws) != len(tt.want) {
				t.Fatalf("QueryByIndex() returned %d values, want %d", len(raws), len(tt.want))
			}
			for i, raw := range raws {
				var r cloud.HistoryRecord
				if err := json.Unmarshal(raw, &r); err != nil {
					t.Fatalf("Unmarshal() error = %v", err)
				}
				if r.ID != tt.want[i] {
					t.Errorf("value[%d].ID = %q, want %q", i, r.ID, tt.want[i])
				}
			}
		})
	}
}

func TestSQLiteStore_BulkDelete(t *testing.T) {
	s := newTestStore(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Put(cloud.TableSavedPlayers, key, "", cloud.SavedEntry{Name: key}); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}
	if err := s.BulkDelete(cloud.TableSavedPlayers, []string{"a", "c", "missing"}); err != nil {
		t.Fatalf("BulkDelete() error = %v", err)
	}

	raws, err := s.QueryByIndex(cloud.TableSavedPlayers, "")
	if err != nil {
		t.Fatalf("QueryByIndex() error = %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("remaining = %d, want 1", len(raws))
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", StoreFileName)

	s, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.Put(cloud.TableSessionFolders, "s1", "", "folder-9"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	var got string
	ok, err := reopened.Get(cloud.TableSessionFolders, "s1", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "folder-9" {
		t.Errorf("Get() = (%v, %q), want (true, %q)", ok, got, "folder-9")
	}
}
