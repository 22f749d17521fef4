package cloud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// trashLock returns the mutex serializing mutations of one trash folder.
// Moves into the trash, pruning, restores and emptying never interleave,
// so a restore sees the trash either before or after a cleanup pass.
func (s *SyncService) trashLock(trashID string) *sync.Mutex {
	s.trashMu.Lock()
	defer s.trashMu.Unlock()
	mu, ok := s.trashLocks[trashID]
	if !ok {
		mu = &sync.Mutex{}
		s.trashLocks[trashID] = mu
	}
	return mu
}

// SoftDelete moves a resource from kind's active folder into its trash folder
// and schedules a retention cleanup of that trash folder. The resource keeps
// its id.
func (s *SyncService) SoftDelete(ctx context.Context, resourceID string, kind ResourceKind) error {
	active, err := s.folderID(ctx, kind, ModeActive)
	if err != nil {
		return err
	}
	trash, err := s.folderID(ctx, kind, ModeTrash)
	if err != nil {
		return err
	}

	mu := s.trashLock(trash)
	mu.Lock()
	err = s.client.Move(ctx, resourceID, active, trash)
	if err == nil {
		stamp := map[string]string{PropTrashedAt: strconv.FormatInt(s.clock.Now().UnixMilli(), 10)}
		if tagErr := s.client.SetProperties(ctx, resourceID, stamp); tagErr != nil {
			s.logger.Warn("tagging trashed resource failed", "id", resourceID, "error", tagErr)
		}
	}
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("moving to trash: %w", err)
	}

	s.logger.Info("moved to trash", "id", resourceID, "kind", string(kind))
	s.scheduleCleanup(ctx, trash)
	return nil
}

// RestoreFromTrash moves a resource from kind's trash folder back to its
// active folder. A resource that was already purged yields ErrNotFound.
func (s *SyncService) RestoreFromTrash(ctx context.Context, resourceID string, kind ResourceKind) error {
	active, err := s.folderID(ctx, kind, ModeActive)
	if err != nil {
		return err
	}
	trash, err := s.folderID(ctx, kind, ModeTrash)
	if err != nil {
		return err
	}

	mu := s.trashLock(trash)
	mu.Lock()
	defer mu.Unlock()

	if err := s.client.Move(ctx, resourceID, trash, active); err != nil {
		return fmt.Errorf("restoring from trash: %w", err)
	}
	if err := s.client.SetProperties(ctx, resourceID, map[string]string{PropTrashedAt: ""}); err != nil {
		s.logger.Warn("clearing trash tag failed", "id", resourceID, "error", err)
	}
	s.logger.Info("restored from trash", "id", resourceID, "kind", string(kind))
	return nil
}

// Delete permanently removes a resource. Already-gone resources succeed.
func (s *SyncService) Delete(ctx context.Context, resourceID string) error {
	if err := s.client.Delete(ctx, resourceID); err != nil {
		return fmt.Errorf("deleting %s: %w", resourceID, err)
	}
	s.logger.Info("deleted", "id", resourceID)
	return nil
}

// EmptyTrash deletes every child of the given kinds' trash folders, or of all
// three when no kind is given, concurrently per kind. Each item is deleted
// independently; the returned error joins every item failure and
// already-deleted items stay deleted.
func (s *SyncService) EmptyTrash(ctx context.Context, kinds ...ResourceKind) error {
	if len(kinds) == 0 {
		kinds = AllKinds
	}

	results := make([]error, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			results[i] = s.emptyTrashFolder(ctx, kind)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(results...)
}

// EmptyProviderTrash purges the provider's own trash, which is distinct from
// the per-kind trash folders.
func (s *SyncService) EmptyProviderTrash(ctx context.Context) error {
	if err := s.client.EmptyProviderTrash(ctx); err != nil {
		return fmt.Errorf("emptying provider trash: %w", err)
	}
	s.logger.Info("provider trash emptied")
	return nil
}

func (s *SyncService) emptyTrashFolder(ctx context.Context, kind ResourceKind) error {
	trash, err := s.folderID(ctx, kind, ModeTrash)
	if err != nil {
		return err
	}

	mu := s.trashLock(trash)
	mu.Lock()
	defer mu.Unlock()

	children, err := s.listChildren(ctx, trash)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range children {
		if err := s.client.Delete(ctx, r.ID); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", r.ID, err))
		}
	}
	s.logger.Info("trash emptied", "kind", string(kind), "deleted", len(children)-len(errs), "failed", len(errs))
	return errors.Join(errs...)
}

// scheduleCleanup runs CleanupTrashLimit in the background. The caller's
// cancellation does not abort it.
func (s *SyncService) scheduleCleanup(ctx context.Context, trashID string) {
	ctx = context.WithoutCancel(ctx)
	s.cleanups.Add(1)
	go func() {
		defer s.cleanups.Done()
		if _, err := s.CleanupTrashLimit(ctx, trashID); err != nil {
			s.logger.Warn("trash cleanup failed", "folder", trashID, "error", err)
		}
	}()
}

// Wait blocks until every scheduled trash cleanup has finished.
func (s *SyncService) Wait() {
	s.cleanups.Wait()
}

// CleanupTrashLimit keeps the most recently trashed items of a trash folder,
// up to the retention limit, and permanently deletes the rest.
// Returns the number of items deleted.
func (s *SyncService) CleanupTrashLimit(ctx context.Context, trashID string) (int, error) {
	mu := s.trashLock(trashID)
	mu.Lock()
	defer mu.Unlock()

	children, err := s.listChildren(ctx, trashID)
	if err != nil {
		return 0, err
	}
	if len(children) <= s.retention {
		return 0, nil
	}

	sort.SliceStable(children, func(i, j int) bool {
		return trashedAt(children[i]).After(trashedAt(children[j]))
	})

	var errs []error
	removed := 0
	for _, r := range children[s.retention:] {
		if err := s.client.Delete(ctx, r.ID); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", r.ID, err))
			continue
		}
		removed++
	}
	s.logger.Info("trash pruned", "folder", trashID, "removed", removed, "kept", s.retention)
	return removed, errors.Join(errs...)
}

// trashedAt is when r was moved into the trash, or its creation time when the
// tag is missing.
func trashedAt(r *Resource) time.Time {
	if v, ok := r.Properties[PropTrashedAt]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return r.CreatedTime
}
