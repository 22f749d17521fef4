package remote

import (
	"context"
	"errors"
	"testing"

	"scoresync/internal/cloud"
	"scoresync/internal/testutil"
)

func newTestMemoryClient() *MemoryClient {
	return NewMemoryClient(testutil.FixedClock(), testutil.NewStubIDGenerator())
}

func TestMemoryClient_UploadOrReplace(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then replaces in place", func(t *testing.T) {
		m := newTestMemoryClient()
		folder, err := m.CreateFolder(ctx, "Templates", cloud.ProviderRootID)
		if err != nil {
			t.Fatalf("CreateFolder() error = %v", err)
		}

		first, err := m.UploadOrReplace(ctx, folder.ID, "a.json", cloud.JSONMimeType, []byte(`{"v":1}`))
		if err != nil {
			t.Fatalf("UploadOrReplace() error = %v", err)
		}
		second, err := m.UploadOrReplace(ctx, folder.ID, "a.json", cloud.JSONMimeType, []byte(`{"v":2}`))
		if err != nil {
			t.Fatalf("second UploadOrReplace() error = %v", err)
		}

		if first.ID != second.ID {
			t.Errorf("replace changed id: %q -> %q", first.ID, second.ID)
		}
		if n := len(m.Children(folder.ID)); n != 1 {
			t.Errorf("Children() = %d, want 1", n)
		}
		data, err := m.Download(ctx, first.ID)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if string(data) != `{"v":2}` {
			t.Errorf("Download() = %s, want %s", data, `{"v":2}`)
		}
	})

	t.Run("does not replace a folder with the same name", func(t *testing.T) {
		m := newTestMemoryClient()
		parent, _ := m.CreateFolder(ctx, "p", cloud.ProviderRootID)
		folder, _ := m.CreateFolder(ctx, "x", parent.ID)

		file, err := m.UploadOrReplace(ctx, parent.ID, "x", cloud.JSONMimeType, []byte(`{}`))
		if err != nil {
			t.Fatalf("UploadOrReplace() error = %v", err)
		}
		if file.ID == folder.ID {
			t.Error("UploadOrReplace() overwrote a folder")
		}
	})

	t.Run("unknown parent", func(t *testing.T) {
		m := newTestMemoryClient()
		_, err := m.UploadOrReplace(ctx, "nope", "a.json", cloud.JSONMimeType, nil)
		if !errors.Is(err, cloud.ErrNotFound) {
			t.Errorf("UploadOrReplace() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryClient_Move(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryClient()
	a, _ := m.CreateFolder(ctx, "a", cloud.ProviderRootID)
	b, _ := m.CreateFolder(ctx, "b", cloud.ProviderRootID)
	file, _ := m.UploadOrReplace(ctx, a.ID, "f.json", cloud.JSONMimeType, []byte(`{}`))

	if err := m.Move(ctx, file.ID, a.ID, b.ID); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	got, ok := m.Get(file.ID)
	if !ok {
		t.Fatal("Get() after Move() = false")
	}
	if got.HasParent(a.ID) || !got.HasParent(b.ID) {
		t.Errorf("Parents = %v, want [%s]", got.Parents, b.ID)
	}

	tests := []struct {
		name     string
		id       string
		from, to string
		wantCode int
	}{
		{name: "missing resource", id: "gone", from: b.ID, to: a.ID, wantCode: 404},
		{name: "missing target", id: file.ID, from: b.ID, to: "gone", wantCode: 404},
		{name: "wrong source", id: file.ID, from: a.ID, to: b.ID, wantCode: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Move(ctx, tt.id, tt.from, tt.to)
			var se *cloud.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Move() error = %v, want StatusError", err)
			}
			if se.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestMemoryClient_Delete(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryClient()
	folder, _ := m.CreateFolder(ctx, "session", cloud.ProviderRootID)
	file, _ := m.UploadOrReplace(ctx, folder.ID, "session.json", cloud.JSONMimeType, []byte(`{}`))

	if err := m.Delete(ctx, folder.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := m.Get(file.ID); ok {
		t.Error("child survived parent Delete()")
	}
	if err := m.Delete(ctx, folder.ID); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestMemoryClient_FailOn(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryClient()
	boom := errors.New("boom")
	m.FailOn(OpCreate, "", boom)

	if _, err := m.CreateFolder(ctx, "a", cloud.ProviderRootID); !errors.Is(err, boom) {
		t.Fatalf("CreateFolder() error = %v, want %v", err, boom)
	}
	if _, err := m.CreateFolder(ctx, "a", cloud.ProviderRootID); err != nil {
		t.Errorf("CreateFolder() after one-shot failure error = %v", err)
	}
	if got := m.Calls(OpCreate); got != 2 {
		t.Errorf("Calls(create) = %d, want 2", got)
	}
}

func TestMemoryClient_ListAllAndProperties(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryClient()
	folder, _ := m.CreateFolder(ctx, "f", cloud.ProviderRootID)
	sub, _ := m.CreateFolder(ctx, "sub", folder.ID)
	file, _ := m.UploadOrReplace(ctx, folder.ID, "a.json", cloud.JSONMimeType, []byte(`{}`))

	if err := m.SetProperties(ctx, file.ID, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}

	all, err := m.ListAll(ctx, cloud.Query{ParentID: folder.ID})
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != sub.ID {
		t.Errorf("ListAll() = %v, want [sub, file] in creation order", all)
	}

	files, err := m.ListAll(ctx, cloud.Query{ParentID: folder.ID, FilesOnly: true})
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(files) != 1 || files[0].Properties["k"] != "v" {
		t.Errorf("ListAll(FilesOnly) = %v, want one tagged file", files)
	}
}

func TestMemoryClient_SetPropertiesEmptyRemoves(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryClient()
	folder, _ := m.CreateFolder(ctx, "f", cloud.ProviderRootID)

	if err := m.SetProperties(ctx, folder.ID, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}
	if err := m.SetProperties(ctx, folder.ID, map[string]string{"a": ""}); err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}
	got, _ := m.Get(folder.ID)
	if _, ok := got.Properties["a"]; ok || got.Properties["b"] != "2" {
		t.Errorf("Properties = %v, want only b=2", got.Properties)
	}
}
