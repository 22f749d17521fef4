package cloud

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	// SettingsFileName is the settings snapshot stored directly under the root.
	SettingsFileName = "settings.json"

	// SettingsVersion is written into every uploaded snapshot.
	SettingsVersion = 1
)

// MergeService reconciles the shared reference lists of the local database
// with the remote settings snapshot.
//
// The merge is a union by name in which the local entry wins on conflict.
// Deletions do not propagate: an entry removed locally but still present
// remotely comes back on the next merge.
type MergeService struct {
	svc    *SyncService
	client ResourceClient
	logger Logger
	clock  Clock
}

// NewMergeService creates a MergeService sharing svc's folder conventions.
func NewMergeService(svc *SyncService) *MergeService {
	return &MergeService{
		svc:    svc,
		client: svc.client,
		logger: svc.logger,
		clock:  svc.clock,
	}
}

// MergeLists returns the union of remote and local keyed by Name.
// Remote entries are inserted first, then local entries overwrite them; the
// result keeps first-insertion order.
func MergeLists(local, remote []SavedEntry) []SavedEntry {
	merged := make([]SavedEntry, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))

	insert := func(e SavedEntry) {
		if i, ok := index[e.Name]; ok {
			merged[i] = e
			return
		}
		index[e.Name] = len(merged)
		merged = append(merged, e)
	}
	for _, e := range remote {
		insert(e)
	}
	for _, e := range local {
		insert(e)
	}
	return merged
}

// MergeLibrary merges each category independently.
func MergeLibrary(local, remote Library) Library {
	return Library{
		SavedPlayers:   MergeLists(local.SavedPlayers, remote.SavedPlayers),
		SavedLocations: MergeLists(local.SavedLocations, remote.SavedLocations),
	}
}

// MergeAndBackup downloads the remote snapshot, merges its lists into local,
// and uploads the result with a single upsert. Preferences come from local
// unconditionally. An absent or unreadable remote snapshot means local data
// is uploaded as is. Returns the uploaded snapshot.
func (m *MergeService) MergeAndBackup(ctx context.Context, local SettingsBackup) (SettingsBackup, error) {
	root, err := m.svc.rootID(ctx)
	if err != nil {
		return local, err
	}

	remote, err := m.fetchRemote(ctx, root)
	if err != nil {
		return local, err
	}

	merged := local
	if remote != nil {
		merged.Library = MergeLibrary(local.Library, remote.Library)
	}
	merged.Version = SettingsVersion
	merged.ExportedAt = UnixMilli(m.clock.Now())

	body, err := json.Marshal(merged)
	if err != nil {
		return local, fmt.Errorf("encoding settings: %w", err)
	}
	if _, err := m.client.UploadOrReplace(ctx, root, SettingsFileName, JSONMimeType, body); err != nil {
		return local, fmt.Errorf("uploading settings: %w", err)
	}

	m.logger.Info("settings backed up",
		"players", len(merged.Library.SavedPlayers),
		"locations", len(merged.Library.SavedLocations))
	return merged, nil
}

// Restore downloads the remote snapshot and merges it into local without
// uploading. The remote preferences replace local ones because the snapshot
// is the most recent explicit write. found is false when there is no
// readable remote snapshot, in which case local is returned unchanged.
func (m *MergeService) Restore(ctx context.Context, local SettingsBackup) (merged SettingsBackup, found bool, err error) {
	root, err := m.svc.rootID(ctx)
	if err != nil {
		return local, false, err
	}
	remote, err := m.fetchRemote(ctx, root)
	if err != nil {
		return local, false, err
	}
	if remote == nil {
		return local, false, nil
	}

	merged = local
	merged.Library = MergeLibrary(local.Library, remote.Library)
	merged.Preferences = remote.Preferences
	merged.Version = remote.Version
	merged.ExportedAt = remote.ExportedAt
	return merged, true, nil
}

// fetchRemote returns the remote snapshot, or nil when it is absent or
// cannot be read. Lookup failures and authorization failures are returned.
func (m *MergeService) fetchRemote(ctx context.Context, rootID string) (*SettingsBackup, error) {
	res, err := m.client.FindByNameAndParent(ctx, SettingsFileName, rootID, "")
	if err != nil {
		return nil, fmt.Errorf("finding settings snapshot: %w", err)
	}
	if res == nil {
		m.logger.Debug("no remote settings snapshot")
		return nil, nil
	}

	data, err := m.client.Download(ctx, res.ID)
	if err != nil {
		if IsUnauthorized(err) {
			return nil, fmt.Errorf("downloading settings snapshot: %w", err)
		}
		m.logger.Warn("remote settings unreadable", "id", res.ID, "error", err)
		return nil, nil
	}

	var remote SettingsBackup
	if err := json.Unmarshal(data, &remote); err != nil {
		m.logger.Warn("remote settings corrupt", "id", res.ID, "error", err)
		return nil, nil
	}
	return &remote, nil
}
