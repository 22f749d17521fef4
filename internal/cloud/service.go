package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

const (
	// DefaultRootFolderName is the application's folder in the remote store.
	DefaultRootFolderName = "BoardGameScorePad"

	// DefaultTrashRetention is how many items each trash folder keeps.
	DefaultTrashRetention = 20

	SessionFileName = "session.json"
	RecordFileName  = "record.json"

	PropOriginalUpdatedAt = "originalUpdatedAt"
	PropTemplateID        = "templateId"
	PropTrashedAt         = "trashedAt"
)

// Options configures a SyncService. Zero values select the defaults.
type Options struct {
	RootFolderName string
	TrashRetention int
	Logger         Logger
	Clock          Clock
}

// SyncService owns the naming and folder conventions for the three resource
// kinds, and implements backup, restore and the trash lifecycle on top of a
// ResourceClient.
type SyncService struct {
	client    ResourceClient
	logger    Logger
	clock     Clock
	rootName  string
	retention int

	folders *folderCache

	trashMu    sync.Mutex
	trashLocks map[string]*sync.Mutex
	cleanups   sync.WaitGroup
}

// NewSyncService creates a SyncService backed by client.
func NewSyncService(client ResourceClient, opts Options) *SyncService {
	if opts.RootFolderName == "" {
		opts.RootFolderName = DefaultRootFolderName
	}
	if opts.TrashRetention <= 0 {
		opts.TrashRetention = DefaultTrashRetention
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	return &SyncService{
		client:     client,
		logger:     opts.Logger,
		clock:      opts.Clock,
		rootName:   opts.RootFolderName,
		retention:  opts.TrashRetention,
		folders:    newFolderCache(),
		trashLocks: make(map[string]*sync.Mutex),
	}
}

// TrashRetention returns the number of items kept per trash folder.
func (s *SyncService) TrashRetention() int {
	return s.retention
}

// TemplateFileName is the remote file name of a template backup.
func TemplateFileName(t Template) string {
	return fmt.Sprintf("%s_%s.json", t.Name, t.ID)
}

// SessionFolderName is the remote folder name of a session or history record.
func SessionFolderName(title, id string) string {
	return fmt.Sprintf("%s_%s", title, id)
}

// BackupTemplate upserts the template's snapshot into the Templates folder and
// tags it with the template's own updatedAt. The returned copy carries a fresh
// LastSyncedAt. Retrying is safe: the upsert is keyed by name and parent.
func (s *SyncService) BackupTemplate(ctx context.Context, t Template) (Template, error) {
	folder, err := s.folderID(ctx, KindTemplate, ModeActive)
	if err != nil {
		return t, err
	}

	body, err := json.Marshal(t)
	if err != nil {
		return t, fmt.Errorf("encoding template: %w", err)
	}

	res, err := s.client.UploadOrReplace(ctx, folder, TemplateFileName(t), JSONMimeType, body)
	if err != nil {
		return t, fmt.Errorf("uploading template: %w", err)
	}

	props := map[string]string{
		PropOriginalUpdatedAt: strconv.FormatInt(t.UpdatedAt, 10),
		PropTemplateID:        t.ID,
	}
	if err := s.client.SetProperties(ctx, res.ID, props); err != nil {
		return t, fmt.Errorf("tagging template: %w", err)
	}

	t.LastSyncedAt = UnixMilli(s.clock.Now())
	s.logger.Info("template backed up", "template", t.ID, "file", res.ID)
	return t, nil
}

// RestoreBackup downloads and decodes a template backup by file id.
func (s *SyncService) RestoreBackup(ctx context.Context, fileID string) (Template, error) {
	var t Template
	if err := s.downloadJSON(ctx, fileID, &t); err != nil {
		return Template{}, fmt.Errorf("restoring template: %w", err)
	}
	return t, nil
}

// CreateActiveSessionFolder finds or creates the session's folder under
// ActiveSessions and returns its id. Callers cache the id themselves.
func (s *SyncService) CreateActiveSessionFolder(ctx context.Context, title, sessionID string) (string, error) {
	parent, err := s.folderID(ctx, KindActiveSession, ModeActive)
	if err != nil {
		return "", err
	}
	return s.findOrCreateFolder(ctx, SessionFolderName(title, sessionID), parent)
}

// BackupActiveSession overwrites session.json inside folderID.
func (s *SyncService) BackupActiveSession(ctx context.Context, session Session, folderID string) (*Resource, error) {
	res, err := s.uploadJSON(ctx, folderID, SessionFileName, session)
	if err != nil {
		return nil, fmt.Errorf("backing up session: %w", err)
	}
	s.logger.Info("session backed up", "session", session.ID, "folder", folderID)
	return res, nil
}

// UploadSessionPhoto upserts an image inside a session folder.
func (s *SyncService) UploadSessionPhoto(ctx context.Context, folderID, name, mimeType string, data []byte) (*Resource, error) {
	res, err := s.client.UploadOrReplace(ctx, folderID, name, mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("uploading photo: %w", err)
	}
	s.logger.Info("photo uploaded", "folder", folderID, "file", res.ID)
	return res, nil
}

// PromoteSessionToHistory moves a session folder from ActiveSessions to
// History. The move is a single reparenting call: on failure the folder stays
// where it was. A folder that is already in History counts as promoted, so a
// retry after a lost reply succeeds.
func (s *SyncService) PromoteSessionToHistory(ctx context.Context, folderID string) error {
	from, err := s.folderID(ctx, KindActiveSession, ModeActive)
	if err != nil {
		return err
	}
	to, err := s.folderID(ctx, KindHistoryRecord, ModeActive)
	if err != nil {
		return err
	}

	moveErr := s.client.Move(ctx, folderID, from, to)
	if moveErr == nil {
		s.logger.Info("session promoted", "folder", folderID)
		return nil
	}
	if IsUnauthorized(moveErr) {
		return fmt.Errorf("promoting session: %w", moveErr)
	}

	promoted, err := s.hasChild(ctx, to, folderID)
	if err != nil {
		s.logger.Warn("checking history folder failed", "folder", folderID, "error", err)
	}
	if promoted {
		s.logger.Info("session already in history", "folder", folderID)
		return nil
	}
	return fmt.Errorf("promoting session: %w", moveErr)
}

// hasChild reports whether resourceID is directly inside parentID.
func (s *SyncService) hasChild(ctx context.Context, parentID, resourceID string) (bool, error) {
	children, err := s.listChildren(ctx, parentID)
	if err != nil {
		return false, err
	}
	for _, r := range children {
		if r.ID == resourceID {
			return true, nil
		}
	}
	return false, nil
}

// FinalizeSession uploads record.json into the session's folder and then
// promotes the folder to History, so the folder's content is final on arrival.
// With an empty folderID the record gets a new folder directly under History.
// Returns the folder id.
func (s *SyncService) FinalizeSession(ctx context.Context, record HistoryRecord, folderID string) (string, error) {
	if folderID == "" {
		parent, err := s.folderID(ctx, KindHistoryRecord, ModeActive)
		if err != nil {
			return "", err
		}
		folderID, err = s.findOrCreateFolder(ctx, SessionFolderName(record.Title, record.ID), parent)
		if err != nil {
			return "", err
		}
		record.CloudFolderID = folderID
		if _, err := s.uploadJSON(ctx, folderID, RecordFileName, record); err != nil {
			return "", fmt.Errorf("backing up record: %w", err)
		}
		s.logger.Info("history record backed up", "record", record.ID, "folder", folderID)
		return folderID, nil
	}

	record.CloudFolderID = folderID
	if _, err := s.uploadJSON(ctx, folderID, RecordFileName, record); err != nil {
		return "", fmt.Errorf("backing up record: %w", err)
	}
	if err := s.PromoteSessionToHistory(ctx, folderID); err != nil {
		return "", err
	}
	return folderID, nil
}

// RestoreSessionBackup downloads session.json from a session folder.
func (s *SyncService) RestoreSessionBackup(ctx context.Context, folderID string) (Session, error) {
	var session Session
	if err := s.downloadChildJSON(ctx, folderID, SessionFileName, &session); err != nil {
		return Session{}, fmt.Errorf("restoring session: %w", err)
	}
	return session, nil
}

// RestoreHistoryBackup downloads record.json from a history folder.
func (s *SyncService) RestoreHistoryBackup(ctx context.Context, folderID string) (HistoryRecord, error) {
	var record HistoryRecord
	if err := s.downloadChildJSON(ctx, folderID, RecordFileName, &record); err != nil {
		return HistoryRecord{}, fmt.Errorf("restoring history record: %w", err)
	}
	return record, nil
}

// FetchFileList lists the children of kind's active or trash folder, newest first.
func (s *SyncService) FetchFileList(ctx context.Context, mode ListMode, kind ResourceKind) ([]FileInfo, error) {
	folder, err := s.folderID(ctx, kind, mode)
	if err != nil {
		return nil, err
	}
	children, err := s.listChildren(ctx, folder)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(children))
	for _, r := range children {
		files = append(files, FileInfo{
			ID:          r.ID,
			Name:        r.Name,
			CreatedTime: r.CreatedTime,
			Properties:  r.Properties,
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].CreatedTime.After(files[j].CreatedTime)
	})
	return files, nil
}

// DownloadImage returns the raw bytes of an image resource.
func (s *SyncService) DownloadImage(ctx context.Context, resourceID string) ([]byte, error) {
	data, err := s.client.Download(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}
	return data, nil
}

func (s *SyncService) listChildren(ctx context.Context, folderID string) ([]*Resource, error) {
	children, err := s.client.ListAll(ctx, Query{
		ParentID: folderID,
		Fields:   "nextPageToken,files(id,name,mimeType,parents,createdTime,modifiedTime,properties,size)",
	})
	if err != nil {
		return nil, fmt.Errorf("listing folder %s: %w", folderID, err)
	}
	return children, nil
}

func (s *SyncService) uploadJSON(ctx context.Context, parentID, name string, v any) (*Resource, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	return s.client.UploadOrReplace(ctx, parentID, name, JSONMimeType, body)
}

func (s *SyncService) downloadJSON(ctx context.Context, fileID string, v any) error {
	data, err := s.client.Download(ctx, fileID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", fileID, err)
	}
	return nil
}

func (s *SyncService) downloadChildJSON(ctx context.Context, folderID, name string, v any) error {
	child, err := s.client.FindByNameAndParent(ctx, name, folderID, "")
	if err != nil {
		return err
	}
	if child == nil {
		return fmt.Errorf("%s in folder %s: %w", name, folderID, ErrNotFound)
	}
	return s.downloadJSON(ctx, child.ID, v)
}
