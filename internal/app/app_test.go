package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"scoresync/internal/auth"
	"scoresync/internal/cloud"
	"scoresync/internal/config"
	"scoresync/internal/remote"
	"scoresync/internal/testutil"
)

// stubAuthorizer flips authorized on SignIn unless signInErr is set.
type stubAuthorizer struct {
	mu         sync.Mutex
	authorized bool
	signInErr  error
	signIns    int
	signOuts   int
}

func (s *stubAuthorizer) IsAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

func (s *stubAuthorizer) SignIn(ctx context.Context, prompt auth.PromptMode) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns++
	if s.signInErr != nil {
		return nil, s.signInErr
	}
	s.authorized = true
	return &oauth2.Token{AccessToken: "t"}, nil
}

func (s *stubAuthorizer) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOuts++
	s.authorized = false
	return nil
}

type testApp struct {
	app      *CloudApp
	client   *remote.MemoryClient
	store    *testutil.MemoryStore
	authz    *stubAuthorizer
	notifier *RecordingNotifier
	clock    *testutil.StubClock
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	clock := testutil.FixedClock()
	client := remote.NewMemoryClient(clock, testutil.NewStubIDGenerator())
	svc := cloud.NewSyncService(client, cloud.Options{Clock: clock, TrashRetention: 3})
	store := testutil.NewMemoryStore()
	authz := &stubAuthorizer{authorized: true}
	notifier := &RecordingNotifier{}

	a := NewCloudApp(svc, authz, store, Options{Notifier: notifier, Clock: clock})
	t.Cleanup(func() { a.Close() })
	return &testApp{app: a, client: client, store: store, authz: authz, notifier: notifier, clock: clock}
}

// lastOp returns the most recent notification.
func (ta *testApp) lastOp(t *testing.T) *Operation {
	t.Helper()
	ops := ta.notifier.Operations()
	if len(ops) == 0 {
		t.Fatal("no notifications recorded")
	}
	return ops[len(ops)-1]
}

func TestCloudApp_BackupAndRestoreTemplate(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	tmpl := cloud.Template{ID: "t1", Name: "Catan", UpdatedAt: 1700000000000}
	synced, err := ta.app.BackupTemplate(ctx, tmpl)
	if err != nil {
		t.Fatalf("BackupTemplate() error = %v", err)
	}
	if synced.LastSyncedAt != ta.clock.Now().UnixMilli() {
		t.Errorf("LastSyncedAt = %d, want %d", synced.LastSyncedAt, ta.clock.Now().UnixMilli())
	}

	var stored cloud.Template
	if ok, _ := ta.store.Get(cloud.TableTemplates, "t1", &stored); !ok || stored.LastSyncedAt != synced.LastSyncedAt {
		t.Errorf("local template = %+v, want synced copy", stored)
	}

	files, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate)
	if err != nil {
		t.Fatalf("FetchFileList() error = %v", err)
	}
	if len(files) != 1 || files[0].Name != "Catan_t1.json" {
		t.Fatalf("FetchFileList() = %+v, want one Catan_t1.json", files)
	}

	ta.store.Delete(cloud.TableTemplates, "t1")
	restored, err := ta.app.RestoreTemplate(ctx, files[0].ID)
	if err != nil {
		t.Fatalf("RestoreTemplate() error = %v", err)
	}
	if restored.Name != "Catan" {
		t.Errorf("restored Name = %q, want %q", restored.Name, "Catan")
	}
	if ok, _ := ta.store.Get(cloud.TableTemplates, "t1", &stored); !ok {
		t.Error("restored template not written locally")
	}

	if got := len(ta.notifier.Operations()); got != 3 {
		t.Errorf("notifications = %d, want one per action (3)", got)
	}
}

func TestCloudApp_EnsuresAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("signs in when signed out", func(t *testing.T) {
		ta := newTestApp(t)
		ta.authz.authorized = false

		if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); err != nil {
			t.Fatalf("FetchFileList() error = %v", err)
		}
		if ta.authz.signIns != 1 {
			t.Errorf("signIns = %d, want 1", ta.authz.signIns)
		}
		if !ta.app.IsConnected() {
			t.Error("IsConnected() = false after sign in")
		}
	})

	t.Run("failed sign in makes no remote call", func(t *testing.T) {
		ta := newTestApp(t)
		ta.authz.authorized = false
		ta.authz.signInErr = errors.New("popup closed")

		_, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate)
		if !cloud.IsUnauthorized(err) {
			t.Fatalf("FetchFileList() error = %v, want unauthorized", err)
		}
		if ta.client.Calls(remote.OpList) != 0 {
			t.Error("remote list called without authorization")
		}
		if op := ta.lastOp(t); !op.Failed() {
			t.Error("expected an error notification")
		}
	})

	t.Run("rejected credential disconnects", func(t *testing.T) {
		ta := newTestApp(t)
		ta.client.FailOn(remote.OpFind, "", &cloud.StatusError{Op: "find", StatusCode: http.StatusUnauthorized})

		_, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate)
		if !cloud.IsUnauthorized(err) {
			t.Fatalf("FetchFileList() error = %v, want unauthorized", err)
		}
		if ta.app.IsConnected() {
			t.Error("IsConnected() = true after 401")
		}
		if ta.authz.signIns != 0 {
			t.Errorf("signIns = %d, want no automatic retry", ta.authz.signIns)
		}
	})

	t.Run("next action after rejection signs in again", func(t *testing.T) {
		ta := newTestApp(t)
		ta.client.FailOn(remote.OpFind, "", &cloud.StatusError{Op: "find", StatusCode: http.StatusForbidden})

		if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); !cloud.IsUnauthorized(err) {
			t.Fatalf("FetchFileList() error = %v, want unauthorized", err)
		}
		// the rejected token is still unexpired
		if !ta.authz.IsAuthorized() {
			t.Fatal("stub credential unexpectedly cleared")
		}

		if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); err != nil {
			t.Fatalf("second FetchFileList() error = %v", err)
		}
		if ta.authz.signIns != 1 {
			t.Errorf("signIns = %d, want 1", ta.authz.signIns)
		}
		if !ta.app.IsConnected() {
			t.Error("IsConnected() = false after signing in again")
		}
	})

	t.Run("failed sign in after rejection stays disconnected", func(t *testing.T) {
		ta := newTestApp(t)
		ta.client.FailOn(remote.OpFind, "", &cloud.StatusError{Op: "find", StatusCode: http.StatusUnauthorized})
		if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); !cloud.IsUnauthorized(err) {
			t.Fatalf("FetchFileList() error = %v, want unauthorized", err)
		}
		ta.authz.signInErr = errors.New("popup closed")
		finds := ta.client.Calls(remote.OpFind)

		if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); !cloud.IsUnauthorized(err) {
			t.Fatalf("second FetchFileList() error = %v, want unauthorized", err)
		}
		if ta.client.Calls(remote.OpFind) != finds {
			t.Error("remote called with a rejected credential")
		}
		if ta.app.IsConnected() {
			t.Error("IsConnected() = true after failed sign in")
		}
	})
}

func TestCloudApp_ConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)
	ta.authz.authorized = false
	ta.app.connected.Store(false)

	if err := ta.app.Connect(ctx, auth.PromptConsent); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !ta.app.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); err != nil {
		t.Fatalf("FetchFileList() error = %v", err)
	}
	finds := ta.client.Calls(remote.OpFind)

	if err := ta.app.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if ta.app.IsConnected() {
		t.Error("IsConnected() = true after Disconnect()")
	}

	// folder ids are resolved again after sign-out
	if _, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate); err != nil {
		t.Fatalf("FetchFileList() error = %v", err)
	}
	if ta.client.Calls(remote.OpFind) == finds {
		t.Error("folder cache survived Disconnect()")
	}
}

func TestCloudApp_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	session := cloud.Session{ID: "s1", TemplateID: "t1", Title: "Friday"}
	folderID, err := ta.app.SaveSession(ctx, session)
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	again, err := ta.app.SaveSession(ctx, session)
	if err != nil {
		t.Fatalf("second SaveSession() error = %v", err)
	}
	if again != folderID {
		t.Errorf("second SaveSession() folder = %q, want cached %q", again, folderID)
	}
	// root, ActiveSessions and the session folder
	if got := ta.client.Calls(remote.OpCreate); got != 3 {
		t.Errorf("create calls = %d, want 3", got)
	}

	record := cloud.HistoryRecord{ID: "h1", SessionID: "s1", TemplateID: "t1", Title: "Friday"}
	finished, err := ta.app.FinalizeSession(ctx, record)
	if err != nil {
		t.Fatalf("FinalizeSession() error = %v", err)
	}
	if finished.CloudFolderID != folderID {
		t.Errorf("CloudFolderID = %q, want %q", finished.CloudFolderID, folderID)
	}

	var cached string
	if ok, _ := ta.store.Get(cloud.TableSessionFolders, "s1", &cached); ok {
		t.Error("session folder cache not cleared")
	}

	history, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindHistoryRecord)
	if err != nil {
		t.Fatalf("FetchFileList() error = %v", err)
	}
	if len(history) != 1 || history[0].ID != folderID {
		t.Fatalf("History = %+v, want the promoted folder", history)
	}
	active, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindActiveSession)
	if err != nil {
		t.Fatalf("FetchFileList() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ActiveSessions = %+v, want empty", active)
	}

	got, err := ta.app.RestoreHistory(ctx, folderID)
	if err != nil {
		t.Fatalf("RestoreHistory() error = %v", err)
	}
	if got.ID != "h1" {
		t.Errorf("restored record = %q, want %q", got.ID, "h1")
	}
}

func TestCloudApp_TrashLifecycle(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	if _, err := ta.app.BackupTemplate(ctx, cloud.Template{ID: "t1", Name: "Azul"}); err != nil {
		t.Fatalf("BackupTemplate() error = %v", err)
	}
	files, _ := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate)
	id := files[0].ID

	if err := ta.app.TrashFile(ctx, id, cloud.KindTemplate); err != nil {
		t.Fatalf("TrashFile() error = %v", err)
	}
	if err := ta.app.RestoreFromTrash(ctx, id, cloud.KindTemplate); err != nil {
		t.Fatalf("RestoreFromTrash() error = %v", err)
	}
	if err := ta.app.DeleteFile(ctx, id); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}

	err := ta.app.RestoreFromTrash(ctx, id, cloud.KindTemplate)
	if !errors.Is(err, cloud.ErrNotFound) {
		t.Errorf("RestoreFromTrash() of purged item error = %v, want ErrNotFound", err)
	}
}

func TestCloudApp_CloseWaitsForCleanup(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	for i := 0; i < 4; i++ {
		tmpl := cloud.Template{ID: fmt.Sprintf("t%d", i), Name: "Carcassonne"}
		if _, err := ta.app.BackupTemplate(ctx, tmpl); err != nil {
			t.Fatalf("BackupTemplate() error = %v", err)
		}
	}
	files, err := ta.app.FetchFileList(ctx, cloud.ModeActive, cloud.KindTemplate)
	if err != nil {
		t.Fatalf("FetchFileList() error = %v", err)
	}
	for _, f := range files {
		if err := ta.app.TrashFile(ctx, f.ID, cloud.KindTemplate); err != nil {
			t.Fatalf("TrashFile() error = %v", err)
		}
	}

	if err := ta.app.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ta.store.Closed() {
		t.Error("local store not closed")
	}

	// retention is 3 in newTestApp
	remaining := 0
	for _, f := range files {
		if _, ok := ta.client.Get(f.ID); ok {
			remaining++
		}
	}
	if remaining != 3 {
		t.Errorf("remaining trashed templates = %d, want 3", remaining)
	}
}

func TestCloudApp_EmptyTrashWithProvider(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	if err := ta.app.EmptyTrash(ctx, "", true); err != nil {
		t.Fatalf("EmptyTrash() error = %v", err)
	}
	if ta.client.Calls(remote.OpEmptyTrash) != 1 {
		t.Errorf("provider trash calls = %d, want 1", ta.client.Calls(remote.OpEmptyTrash))
	}

	ta.client.FailOn(remote.OpEmptyTrash, "", errors.New("quota"))
	if err := ta.app.EmptyTrash(ctx, cloud.KindTemplate, true); err == nil {
		t.Error("EmptyTrash() expected error when the provider purge fails")
	}
}

func TestCloudApp_DownloadImage(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	data, err := ta.app.DownloadImage(ctx, "")
	if err != nil || data != nil {
		t.Fatalf("DownloadImage(\"\") = (%v, %v), want silent skip", data, err)
	}
	if n := len(ta.notifier.Operations()); n != 0 {
		t.Errorf("notifications = %d, want none for a skipped download", n)
	}

	folderID, err := ta.app.SaveSession(ctx, cloud.Session{ID: "s1", Title: "x"})
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	photo, err := ta.app.UploadSessionPhoto(ctx, cloud.Session{ID: "s1", Title: "x"}, "p.png", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("UploadSessionPhoto() error = %v", err)
	}
	if !photo.HasParent(folderID) {
		t.Errorf("photo parents = %v, want session folder %q", photo.Parents, folderID)
	}

	data, err = ta.app.DownloadImage(ctx, photo.ID)
	if err != nil {
		t.Fatalf("DownloadImage() error = %v", err)
	}
	if string(data) != "png" {
		t.Errorf("DownloadImage() = %q, want %q", data, "png")
	}

	if _, err := ta.app.DownloadImage(ctx, "missing"); !errors.Is(err, cloud.ErrNotFound) {
		t.Errorf("DownloadImage(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCloudApp_IsSyncing(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		run(ctx, ta.app, "slow", func(ctx context.Context) (struct{}, string, error) {
			close(started)
			<-release
			return struct{}{}, "done", nil
		})
	}()

	<-started
	if !ta.app.IsSyncing() {
		t.Error("IsSyncing() = false while an action is in flight")
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for ta.app.IsSyncing() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ta.app.IsSyncing() {
		t.Error("IsSyncing() = true after the action finished")
	}
}

func TestNewCloudAppFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig(dir)
	cfg.Remote.Type = "memory"
	cfg.Database.Type = "memory"
	cfg.Auth.Type = "static"
	cfg.Auth.AccessToken = "static-token"
	cfg.Remote.TrashRetention = 7

	a, err := NewCloudAppFromConfig(cfg, &RecordingNotifier{}, nil)
	if err != nil {
		t.Fatalf("NewCloudAppFromConfig() error = %v", err)
	}
	defer a.Close()

	if got := a.TrashRetention(); got != 7 {
		t.Errorf("TrashRetention() = %d, want 7", got)
	}

	if a.IsConnected() {
		t.Error("IsConnected() = true before any sign in")
	}
	if _, err := a.BackupTemplate(context.Background(), cloud.Template{ID: "t1", Name: "Catan"}); err != nil {
		t.Fatalf("BackupTemplate() error = %v", err)
	}
	if !a.IsConnected() {
		t.Error("IsConnected() = false after implicit sign in")
	}
}

func TestCloudApp_FinalizeSessionRetry(t *testing.T) {
	ctx := context.Background()
	ta := newTestApp(t)

	folderID, err := ta.app.SaveSession(ctx, cloud.Session{ID: "s1", Title: "Friday"})
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	// an earlier attempt moved the folder but its reply was lost
	if err := ta.app.svc.PromoteSessionToHistory(ctx, folderID); err != nil {
		t.Fatalf("PromoteSessionToHistory() error = %v", err)
	}

	record := cloud.HistoryRecord{ID: "h1", SessionID: "s1", Title: "Friday"}
	if _, err := ta.app.FinalizeSession(ctx, record); err != nil {
		t.Fatalf("FinalizeSession() error = %v", err)
	}
	var cached string
	if ok, _ := ta.store.Get(cloud.TableSessionFolders, "s1", &cached); ok {
		t.Error("session folder cache not cleared after retry")
	}
	if op := ta.lastOp(t); op.Failed() {
		t.Errorf("last notification = %q, want success", op.Message)
	}
}
