package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"scoresync/internal/auth"
	"scoresync/internal/cloud"
	"scoresync/internal/config"
	"scoresync/internal/database"
	"scoresync/internal/remote"
)

// Authorizer is the part of the auth client the façade depends on.
type Authorizer interface {
	IsAuthorized() bool
	SignIn(ctx context.Context, prompt auth.PromptMode) (*oauth2.Token, error)
	SignOut(ctx context.Context) error
}

// Options configures a CloudApp. Zero values select the defaults.
type Options struct {
	Notifier Notifier
	Logger   cloud.Logger
	Clock    cloud.Clock
}

// CloudApp is the façade between the CLI and the sync services.
// It tracks the connected and syncing state, makes sure a credential exists
// before every remote action, and reports every action through the Notifier.
type CloudApp struct {
	authz    Authorizer
	svc      *cloud.SyncService
	merge    *cloud.MergeService
	store    cloud.LocalStore
	notifier Notifier
	logger   cloud.Logger
	clock    cloud.Clock

	connected atomic.Bool
	inFlight  atomic.Int32

	logCloser io.Closer
}

// NewCloudApp wires a CloudApp from already constructed collaborators.
func NewCloudApp(svc *cloud.SyncService, authz Authorizer, store cloud.LocalStore, opts Options) *CloudApp {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = cloud.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = cloud.RealClock{}
	}
	a := &CloudApp{
		authz:    authz,
		svc:      svc,
		merge:    cloud.NewMergeService(svc),
		store:    store,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
	a.connected.Store(authz.IsAuthorized())
	return a
}

// NewCloudAppFromConfig creates a fully wired CloudApp from the given config.
// open presents the consent URL during interactive sign-in.
// The caller must call Close when done.
func NewCloudAppFromConfig(cfg *config.Config, notifier Notifier, open func(url string) error) (*CloudApp, error) {
	runID := uuid.New().String()[:8]
	slogger, logCloser, err := newLogger(cfg.LogDir, runID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	clock := cloud.RealClock{}

	authClient, err := auth.NewClientFromConfig(cfg.Auth, open, clock, logger)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating auth client: %w", err)
	}

	client, err := remote.NewClientFromConfig(cfg.Remote, authClient, logger)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating remote client: %w", err)
	}

	store, err := database.NewStoreFromConfig(cfg.Database, clock)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	svc := cloud.NewSyncService(client, cloud.Options{
		RootFolderName: cfg.Remote.RootFolder,
		TrashRetention: cfg.Remote.TrashRetention,
		Logger:         logger,
		Clock:          clock,
	})

	a := NewCloudApp(svc, authClient, store, Options{Notifier: notifier, Logger: logger, Clock: clock})
	a.logCloser = logCloser
	return a, nil
}

// IsConnected reports whether the last known credential state is usable.
func (a *CloudApp) IsConnected() bool {
	return a.connected.Load()
}

// TrashRetention returns how many items each trash folder keeps.
func (a *CloudApp) TrashRetention() int {
	return a.svc.TrashRetention()
}

// IsSyncing reports whether any remote action is in flight.
func (a *CloudApp) IsSyncing() bool {
	return a.inFlight.Load() > 0
}

// Close waits for background trash cleanups and releases the local store and log file.
func (a *CloudApp) Close() error {
	a.svc.Wait()
	err := a.store.Close()
	if err != nil {
		err = fmt.Errorf("closing local store: %w", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return err
}

// Connect signs in interactively and marks the app connected.
func (a *CloudApp) Connect(ctx context.Context, prompt auth.PromptMode) error {
	op := NewOperation("connect", a.clock.Now())
	if _, err := a.authz.SignIn(ctx, prompt); err != nil {
		a.connected.Store(false)
		return a.finish(op, "", err)
	}
	a.connected.Store(true)
	return a.finish(op, "Connected to cloud storage", nil)
}

// Disconnect signs out, forgets the resolved folder ids and marks the app disconnected.
func (a *CloudApp) Disconnect(ctx context.Context) error {
	op := NewOperation("disconnect", a.clock.Now())
	err := a.authz.SignOut(ctx)
	a.svc.ResetFolderCache()
	a.connected.Store(false)
	return a.finish(op, "Disconnected from cloud storage", err)
}

// finish records the outcome of op, notifies once and returns err.
func (a *CloudApp) finish(op *Operation, message string, err error) error {
	if err != nil {
		op.fail(a.clock.Now(), err)
		a.logger.Error("action failed", "action", op.Name, "error", err)
		a.notifier.Error(op)
		return err
	}
	op.succeed(a.clock.Now(), message)
	a.logger.Debug("action finished", "action", op.Name, "duration", op.Duration)
	a.notifier.Success(op)
	return nil
}

// ensureAuthorized signs in when no usable credential is present, or when the
// remote store rejected the current one. A rejected credential may still be
// unexpired, so the connected flag decides.
func (a *CloudApp) ensureAuthorized(ctx context.Context) error {
	if a.connected.Load() && a.authz.IsAuthorized() {
		return nil
	}
	a.connected.Store(false)
	if _, err := a.authz.SignIn(ctx, auth.PromptAuto); err != nil {
		return fmt.Errorf("%w: %v", cloud.ErrNotAuthorized, err)
	}
	a.connected.Store(true)
	return nil
}

// run brackets a remote action: in-flight accounting, authorization,
// unauthorized detection and exactly one notification.
func run[T any](ctx context.Context, a *CloudApp, name string, fn func(ctx context.Context) (T, string, error)) (T, error) {
	a.inFlight.Add(1)
	defer a.inFlight.Add(-1)

	op := NewOperation(name, a.clock.Now())
	var zero T
	if err := a.ensureAuthorized(ctx); err != nil {
		return zero, a.finish(op, "", err)
	}

	v, message, err := fn(ctx)
	if err != nil {
		if cloud.IsUnauthorized(err) {
			a.connected.Store(false)
			a.logger.Warn("credential rejected, sign in again", "action", name)
		}
		return zero, a.finish(op, "", err)
	}
	return v, a.finish(op, message, nil)
}

// local brackets an action that touches only the local store.
func local[T any](a *CloudApp, name string, fn func() (T, string, error)) (T, error) {
	op := NewOperation(name, a.clock.Now())
	v, message, err := fn()
	if err != nil {
		var zero T
		return zero, a.finish(op, "", err)
	}
	return v, a.finish(op, message, nil)
}

// BackupTemplate uploads t and stores the copy carrying the new sync time locally.
func (a *CloudApp) BackupTemplate(ctx context.Context, t cloud.Template) (cloud.Template, error) {
	return run(ctx, a, "backupTemplate", func(ctx context.Context) (cloud.Template, string, error) {
		synced, err := a.svc.BackupTemplate(ctx, t)
		if err != nil {
			return t, "", err
		}
		if err := a.store.Put(cloud.TableTemplates, synced.ID, "", synced); err != nil {
			return synced, "", fmt.Errorf("saving template: %w", err)
		}
		return synced, fmt.Sprintf("Template %q backed up", synced.Name), nil
	})
}

// FetchFileList lists the active or trashed resources of kind, newest first.
func (a *CloudApp) FetchFileList(ctx context.Context, mode cloud.ListMode, kind cloud.ResourceKind) ([]cloud.FileInfo, error) {
	return run(ctx, a, "fetchFileList", func(ctx context.Context) ([]cloud.FileInfo, string, error) {
		files, err := a.svc.FetchFileList(ctx, mode, kind)
		if err != nil {
			return nil, "", err
		}
		return files, fmt.Sprintf("%d %s item(s) in %s", len(files), kind, mode), nil
	})
}

// RestoreTemplate downloads a template backup and writes it to the local store.
func (a *CloudApp) RestoreTemplate(ctx context.Context, fileID string) (cloud.Template, error) {
	return run(ctx, a, "restoreTemplate", func(ctx context.Context) (cloud.Template, string, error) {
		t, err := a.svc.RestoreBackup(ctx, fileID)
		if err != nil {
			return t, "", err
		}
		if err := a.store.Put(cloud.TableTemplates, t.ID, "", t); err != nil {
			return t, "", fmt.Errorf("saving template: %w", err)
		}
		return t, fmt.Sprintf("Template %q restored", t.Name), nil
	})
}

// RestoreSession downloads an active session and remembers its folder so
// later saves go to the same place.
func (a *CloudApp) RestoreSession(ctx context.Context, folderID string) (cloud.Session, error) {
	return run(ctx, a, "restoreSession", func(ctx context.Context) (cloud.Session, string, error) {
		s, err := a.svc.RestoreSessionBackup(ctx, folderID)
		if err != nil {
			return s, "", err
		}
		s.CloudFolderID = folderID
		if err := a.store.Put(cloud.TableSessionFolders, s.ID, "", folderID); err != nil {
			return s, "", fmt.Errorf("saving session folder: %w", err)
		}
		return s, fmt.Sprintf("Session %q restored", s.Title), nil
	})
}

// RestoreHistory downloads a finished game record and writes it to the local store.
func (a *CloudApp) RestoreHistory(ctx context.Context, folderID string) (cloud.HistoryRecord, error) {
	return run(ctx, a, "restoreHistory", func(ctx context.Context) (cloud.HistoryRecord, string, error) {
		r, err := a.svc.RestoreHistoryBackup(ctx, folderID)
		if err != nil {
			return r, "", err
		}
		r.CloudFolderID = folderID
		if err := a.store.Put(cloud.TableHistory, r.ID, r.TemplateID, r); err != nil {
			return r, "", fmt.Errorf("saving history record: %w", err)
		}
		return r, fmt.Sprintf("Game %q restored", r.Title), nil
	})
}

// TrashFile moves a resource into its kind's trash folder.
func (a *CloudApp) TrashFile(ctx context.Context, id string, kind cloud.ResourceKind) error {
	_, err := run(ctx, a, "trashFile", func(ctx context.Context) (struct{}, string, error) {
		return struct{}{}, "Moved to trash", a.svc.SoftDelete(ctx, id, kind)
	})
	return err
}

// RestoreFromTrash moves a resource back to its kind's active folder.
// A resource that was already purged reports cloud.ErrNotFound.
func (a *CloudApp) RestoreFromTrash(ctx context.Context, id string, kind cloud.ResourceKind) error {
	_, err := run(ctx, a, "restoreFromTrash", func(ctx context.Context) (struct{}, string, error) {
		err := a.svc.RestoreFromTrash(ctx, id, kind)
		if cloud.IsNotFound(err) {
			err = fmt.Errorf("item is no longer in the trash: %w", err)
		}
		return struct{}{}, "Restored from trash", err
	})
	return err
}

// DeleteFile permanently removes a resource.
func (a *CloudApp) DeleteFile(ctx context.Context, id string) error {
	_, err := run(ctx, a, "deleteFile", func(ctx context.Context) (struct{}, string, error) {
		return struct{}{}, "Deleted permanently", a.svc.Delete(ctx, id)
	})
	return err
}

// EmptyTrash empties kind's trash folder, or all three when kind is empty.
// With provider set it also purges the provider's own trash.
func (a *CloudApp) EmptyTrash(ctx context.Context, kind cloud.ResourceKind, provider bool) error {
	_, err := run(ctx, a, "emptyTrash", func(ctx context.Context) (struct{}, string, error) {
		var kinds []cloud.ResourceKind
		if kind != "" {
			kinds = append(kinds, kind)
		}
		err := a.svc.EmptyTrash(ctx, kinds...)
		if provider {
			err = errors.Join(err, a.svc.EmptyProviderTrash(ctx))
		}
		return struct{}{}, "Trash emptied", err
	})
	return err
}

// DownloadImage returns the bytes of a cloud image. An empty id means no
// image is configured: it returns (nil, nil) without a remote call or notification.
func (a *CloudApp) DownloadImage(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		a.logger.Debug("no cloud image configured, skipping download")
		return nil, nil
	}
	return run(ctx, a, "downloadImage", func(ctx context.Context) ([]byte, string, error) {
		data, err := a.svc.DownloadImage(ctx, id)
		if err != nil {
			return nil, "", err
		}
		return data, fmt.Sprintf("Image downloaded (%d bytes)", len(data)), nil
	})
}

// SaveSession backs up an in-progress session, creating its folder on the
// first save and caching the folder id locally. Returns the folder id.
func (a *CloudApp) SaveSession(ctx context.Context, s cloud.Session) (string, error) {
	return run(ctx, a, "saveSession", func(ctx context.Context) (string, string, error) {
		folderID, err := a.sessionFolder(ctx, s)
		if err != nil {
			return "", "", err
		}
		s.CloudFolderID = folderID
		if _, err := a.svc.BackupActiveSession(ctx, s, folderID); err != nil {
			return "", "", err
		}
		return folderID, fmt.Sprintf("Session %q saved", s.Title), nil
	})
}

// UploadSessionPhoto stores an image in the session's folder, creating the
// folder first if the session was never saved. Returns the image resource.
func (a *CloudApp) UploadSessionPhoto(ctx context.Context, s cloud.Session, name, mimeType string, data []byte) (*cloud.Resource, error) {
	return run(ctx, a, "uploadSessionPhoto", func(ctx context.Context) (*cloud.Resource, string, error) {
		folderID, err := a.sessionFolder(ctx, s)
		if err != nil {
			return nil, "", err
		}
		res, err := a.svc.UploadSessionPhoto(ctx, folderID, name, mimeType, data)
		if err != nil {
			return nil, "", err
		}
		return res, fmt.Sprintf("Photo %q uploaded", name), nil
	})
}

func (a *CloudApp) sessionFolder(ctx context.Context, s cloud.Session) (string, error) {
	var folderID string
	ok, err := a.store.Get(cloud.TableSessionFolders, s.ID, &folderID)
	if err != nil {
		return "", fmt.Errorf("reading session folder: %w", err)
	}
	if ok && folderID != "" {
		return folderID, nil
	}
	if s.CloudFolderID != "" {
		folderID = s.CloudFolderID
	} else {
		folderID, err = a.svc.CreateActiveSessionFolder(ctx, s.Title, s.ID)
		if err != nil {
			return "", err
		}
	}
	if err := a.store.Put(cloud.TableSessionFolders, s.ID, "", folderID); err != nil {
		return "", fmt.Errorf("saving session folder: %w", err)
	}
	return folderID, nil
}

// FinalizeSession uploads the finished game's record into its session
// folder, promotes the folder to History and clears the cached folder id.
// A game that was never saved gets a new History folder.
func (a *CloudApp) FinalizeSession(ctx context.Context, r cloud.HistoryRecord) (cloud.HistoryRecord, error) {
	return run(ctx, a, "finalizeSession", func(ctx context.Context) (cloud.HistoryRecord, string, error) {
		var folderID string
		if _, err := a.store.Get(cloud.TableSessionFolders, r.SessionID, &folderID); err != nil {
			return r, "", fmt.Errorf("reading session folder: %w", err)
		}

		folderID, err := a.svc.FinalizeSession(ctx, r, folderID)
		if err != nil {
			return r, "", err
		}
		r.CloudFolderID = folderID

		if err := a.store.Delete(cloud.TableSessionFolders, r.SessionID); err != nil {
			return r, "", fmt.Errorf("clearing session folder: %w", err)
		}
		if err := a.store.Put(cloud.TableHistory, r.ID, r.TemplateID, r); err != nil {
			return r, "", fmt.Errorf("saving history record: %w", err)
		}
		return r, fmt.Sprintf("Game %q moved to history", r.Title), nil
	})
}
