package app

import (
	"context"
	"encoding/json"
	"fmt"

	"scoresync/internal/cloud"
)

// preferencesKey is the single row of the preferences table.
const preferencesKey = "preferences"

// BackupSettings merges the local preferences and saved lists with the remote
// snapshot, uploads the union and writes the union back locally.
func (a *CloudApp) BackupSettings(ctx context.Context) (cloud.SettingsBackup, error) {
	return run(ctx, a, "backupSettings", func(ctx context.Context) (cloud.SettingsBackup, string, error) {
		snapshot, err := a.LocalSettings()
		if err != nil {
			return snapshot, "", err
		}
		merged, err := a.merge.MergeAndBackup(ctx, snapshot)
		if err != nil {
			return snapshot, "", err
		}
		if err := a.saveLibrary(merged.Library); err != nil {
			return merged, "", err
		}
		return merged, "Settings backed up", nil
	})
}

// RestoreSettings merges the remote snapshot into the local store. Remote
// preferences replace local ones; saved lists are unioned with local winning.
func (a *CloudApp) RestoreSettings(ctx context.Context) (cloud.SettingsBackup, error) {
	return run(ctx, a, "restoreSettings", func(ctx context.Context) (cloud.SettingsBackup, string, error) {
		snapshot, err := a.LocalSettings()
		if err != nil {
			return snapshot, "", err
		}
		merged, found, err := a.merge.Restore(ctx, snapshot)
		if err != nil {
			return snapshot, "", err
		}
		if !found {
			return snapshot, "No settings backup found", nil
		}
		if err := a.saveSettings(merged); err != nil {
			return merged, "", err
		}
		return merged, "Settings restored", nil
	})
}

// ImportSettings merges a settings file into the local store the same way as
// RestoreSettings, without contacting the remote store.
func (a *CloudApp) ImportSettings(data []byte) (cloud.SettingsBackup, error) {
	return local(a, "importSettings", func() (cloud.SettingsBackup, string, error) {
		var imported cloud.SettingsBackup
		if err := json.Unmarshal(data, &imported); err != nil {
			return imported, "", fmt.Errorf("decoding settings file: %w", err)
		}
		snapshot, err := a.LocalSettings()
		if err != nil {
			return snapshot, "", err
		}
		snapshot.Library = cloud.MergeLibrary(snapshot.Library, imported.Library)
		snapshot.Preferences = imported.Preferences
		if err := a.saveSettings(snapshot); err != nil {
			return snapshot, "", err
		}
		return snapshot, fmt.Sprintf("Imported %d player(s) and %d location(s)",
			len(imported.Library.SavedPlayers), len(imported.Library.SavedLocations)), nil
	})
}

// LocalSettings reads the preferences and saved lists from the local store.
func (a *CloudApp) LocalSettings() (cloud.SettingsBackup, error) {
	var s cloud.SettingsBackup
	if _, err := a.store.Get(cloud.TablePreferences, preferencesKey, &s.Preferences); err != nil {
		return s, fmt.Errorf("reading preferences: %w", err)
	}

	var err error
	if s.Library.SavedPlayers, err = a.loadEntries(cloud.TableSavedPlayers); err != nil {
		return s, err
	}
	if s.Library.SavedLocations, err = a.loadEntries(cloud.TableSavedLocations); err != nil {
		return s, err
	}
	s.Version = cloud.SettingsVersion
	return s, nil
}

func (a *CloudApp) loadEntries(table string) ([]cloud.SavedEntry, error) {
	raws, err := a.store.QueryByIndex(table, "")
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	entries := make([]cloud.SavedEntry, 0, len(raws))
	for _, raw := range raws {
		var e cloud.SavedEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding %s entry: %w", table, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (a *CloudApp) saveSettings(s cloud.SettingsBackup) error {
	if err := a.store.Put(cloud.TablePreferences, preferencesKey, "", s.Preferences); err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return a.saveLibrary(s.Library)
}

func (a *CloudApp) saveLibrary(lib cloud.Library) error {
	for table, entries := range map[string][]cloud.SavedEntry{
		cloud.TableSavedPlayers:   lib.SavedPlayers,
		cloud.TableSavedLocations: lib.SavedLocations,
	} {
		for _, e := range entries {
			if err := a.store.Put(table, e.Name, "", e); err != nil {
				return fmt.Errorf("saving %s entry %q: %w", table, e.Name, err)
			}
		}
	}
	return nil
}
