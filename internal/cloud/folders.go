package cloud

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ProviderRootID is the provider's alias for the account's top-level folder.
const ProviderRootID = "root"

// folderCache memoizes the root and category folder ids for the process
// lifetime. The folder set is immutable once created, so the only invalidation
// is an explicit reset on sign-out.
type folderCache struct {
	mu    sync.RWMutex
	ids   map[string]string // folder name -> id; the root is stored under ""
	gen   uint64
	group singleflight.Group
}

func newFolderCache() *folderCache {
	return &folderCache{ids: make(map[string]string)}
}

func (c *folderCache) get(name string) (string, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, c.gen, ok
}

// put stores id unless the cache was reset since gen was read.
func (c *folderCache) put(name, id string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.ids[name] = id
	}
}

func (c *folderCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]string)
	c.gen++
}

// ResetFolderCache forgets every resolved folder id. Called on sign-out.
func (s *SyncService) ResetFolderCache() {
	s.folders.reset()
}

// rootID resolves (creating if needed) the application's root folder.
func (s *SyncService) rootID(ctx context.Context) (string, error) {
	return s.resolve(ctx, "", func(ctx context.Context) (string, error) {
		return s.findOrCreateFolder(ctx, s.rootName, ProviderRootID)
	})
}

// folderID resolves the active or trash folder of kind.
func (s *SyncService) folderID(ctx context.Context, kind ResourceKind, mode ListMode) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown resource kind: %q", kind)
	}
	name := kind.FolderName(mode)
	return s.resolve(ctx, name, func(ctx context.Context) (string, error) {
		root, err := s.rootID(ctx)
		if err != nil {
			return "", err
		}
		return s.findOrCreateFolder(ctx, name, root)
	})
}

// resolve returns the cached id for name or runs create once, even when
// several callers resolve the same folder concurrently.
func (s *SyncService) resolve(ctx context.Context, name string, create func(context.Context) (string, error)) (string, error) {
	if id, _, ok := s.folders.get(name); ok {
		return id, nil
	}
	v, err, _ := s.folders.group.Do(name, func() (any, error) {
		id, gen, ok := s.folders.get(name)
		if ok {
			return id, nil
		}
		id, err := create(ctx)
		if err != nil {
			return "", err
		}
		s.folders.put(name, id, gen)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// findOrCreateFolder returns the folder named name inside parentID, creating it
// only after a lookup finds nothing.
func (s *SyncService) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	existing, err := s.client.FindByNameAndParent(ctx, name, parentID, FolderMimeType)
	if err != nil {
		return "", fmt.Errorf("finding folder %s: %w", name, err)
	}
	if existing != nil {
		s.logger.Debug("folder found", "name", name, "id", existing.ID)
		return existing.ID, nil
	}

	created, err := s.client.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("creating folder %s: %w", name, err)
	}
	s.logger.Info("folder created", "name", name, "id", created.ID)
	return created.ID, nil
}
