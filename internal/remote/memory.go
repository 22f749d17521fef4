package remote

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"scoresync/internal/cloud"
)

// Operation names accepted by MemoryClient.FailOn and Calls.
const (
	OpFind       = "find"
	OpCreate     = "create"
	OpUpload     = "upload"
	OpMove       = "move"
	OpDelete     = "delete"
	OpList       = "list"
	OpDownload   = "download"
	OpProperties = "properties"
	OpEmptyTrash = "emptyTrash"
)

// MemoryClient is an in-memory hierarchical store implementing
// cloud.ResourceClient, useful for testing and offline use.
// The provider root alias "root" always exists.
// This implementation is safe for concurrent use.
type MemoryClient struct {
	clock cloud.Clock
	idgen cloud.IDGenerator

	mu       sync.RWMutex
	items    map[string]*memoryItem
	seq      int64
	failures map[string][]error // "op" or "op:id" -> queued one-shot errors
	calls    map[string]int
}

type memoryItem struct {
	res     cloud.Resource
	parents mapset.Set[string]
	content []byte
	seq     int64
}

// NewMemoryClient creates an empty store. Nil clock or idgen select the real ones.
func NewMemoryClient(clock cloud.Clock, idgen cloud.IDGenerator) *MemoryClient {
	if clock == nil {
		clock = cloud.RealClock{}
	}
	if idgen == nil {
		idgen = cloud.UUIDGenerator{}
	}
	return &MemoryClient{
		clock:    clock,
		idgen:    idgen,
		items:    make(map[string]*memoryItem),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailOn makes the next call of op fail with err. A non-empty id restricts the
// failure to calls targeting that resource.
func (m *MemoryClient) FailOn(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op
	if id != "" {
		key = op + ":" + id
	}
	m.failures[key] = append(m.failures[key], err)
}

// Calls returns how many times op has been invoked.
func (m *MemoryClient) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Get returns a copy of the resource with the given id.
func (m *MemoryClient) Get(id string) (*cloud.Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, false
	}
	return item.snapshot(), true
}

// Children returns copies of every resource directly inside parentID.
func (m *MemoryClient) Children(parentID string) []*cloud.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchLocked(cloud.Query{ParentID: parentID})
}

// begin records a call and returns any injected failure. Callers hold m.mu.
func (m *MemoryClient) begin(op, id string) error {
	m.calls[op]++
	for _, key := range []string{op + ":" + id, op} {
		if queued := m.failures[key]; len(queued) > 0 {
			m.failures[key] = queued[1:]
			return queued[0]
		}
	}
	return nil
}

func (m *MemoryClient) FindByNameAndParent(ctx context.Context, name, parentID, mimeType string) (*cloud.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpFind, parentID); err != nil {
		return nil, err
	}
	found := m.matchLocked(cloud.Query{ParentID: parentID, Name: name, MimeType: mimeType})
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (m *MemoryClient) CreateFolder(ctx context.Context, name, parentID string) (*cloud.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpCreate, parentID); err != nil {
		return nil, err
	}
	if err := m.checkParentLocked("create folder", parentID); err != nil {
		return nil, err
	}
	return m.insertLocked(name, cloud.FolderMimeType, parentID, nil).snapshot(), nil
}

func (m *MemoryClient) UploadOrReplace(ctx context.Context, parentID, name, mimeType string, body []byte) (*cloud.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpload, parentID); err != nil {
		return nil, err
	}

	existing := m.matchLocked(cloud.Query{ParentID: parentID, Name: name, FilesOnly: true})
	if len(existing) > 0 {
		item := m.items[existing[0].ID]
		item.content = slices.Clone(body)
		item.res.MimeType = mimeType
		item.res.Size = int64(len(body))
		item.res.ModifiedTime = m.clock.Now()
		return item.snapshot(), nil
	}

	if err := m.checkParentLocked("upload", parentID); err != nil {
		return nil, err
	}
	return m.insertLocked(name, mimeType, parentID, body).snapshot(), nil
}

func (m *MemoryClient) Move(ctx context.Context, resourceID, fromParent, toParent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpMove, resourceID); err != nil {
		return err
	}
	item, ok := m.items[resourceID]
	if !ok {
		return &cloud.StatusError{Op: "move", StatusCode: http.StatusNotFound, Message: "file not found: " + resourceID}
	}
	if err := m.checkParentLocked("move", toParent); err != nil {
		return err
	}
	if !item.parents.Contains(fromParent) {
		return &cloud.StatusError{Op: "move", StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("%s is not in parent %s", resourceID, fromParent)}
	}
	item.parents.Remove(fromParent)
	item.parents.Add(toParent)
	item.res.ModifiedTime = m.clock.Now()
	return nil
}

func (m *MemoryClient) Delete(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpDelete, resourceID); err != nil {
		return err
	}
	m.deleteLocked(resourceID)
	return nil
}

// deleteLocked removes id and every descendant that has no other parent.
func (m *MemoryClient) deleteLocked(id string) {
	if _, ok := m.items[id]; !ok {
		return
	}
	delete(m.items, id)
	for childID, child := range m.items {
		if child.parents.Contains(id) {
			child.parents.Remove(id)
			if child.parents.Cardinality() == 0 {
				m.deleteLocked(childID)
			}
		}
	}
}

func (m *MemoryClient) ListAll(ctx context.Context, q cloud.Query) ([]*cloud.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpList, q.ParentID); err != nil {
		return nil, err
	}
	return m.matchLocked(q), nil
}

func (m *MemoryClient) Download(ctx context.Context, resourceID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpDownload, resourceID); err != nil {
		return nil, err
	}
	item, ok := m.items[resourceID]
	if !ok {
		return nil, &cloud.StatusError{Op: "download", StatusCode: http.StatusNotFound, Message: "file not found: " + resourceID}
	}
	if item.res.IsFolder() {
		return nil, &cloud.StatusError{Op: "download", StatusCode: http.StatusBadRequest, Message: "cannot download a folder"}
	}
	return slices.Clone(item.content), nil
}

func (m *MemoryClient) SetProperties(ctx context.Context, resourceID string, props map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpProperties, resourceID); err != nil {
		return err
	}
	item, ok := m.items[resourceID]
	if !ok {
		return &cloud.StatusError{Op: "set properties", StatusCode: http.StatusNotFound, Message: "file not found: " + resourceID}
	}
	if item.res.Properties == nil {
		item.res.Properties = make(map[string]string, len(props))
	}
	for k, v := range props {
		if v == "" {
			delete(item.res.Properties, k)
			continue
		}
		item.res.Properties[k] = v
	}
	return nil
}

// EmptyProviderTrash succeeds without effect: trashed-at-provider resources
// are never kept in memory.
func (m *MemoryClient) EmptyProviderTrash(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin(OpEmptyTrash, "")
}

func (m *MemoryClient) checkParentLocked(op, parentID string) error {
	if parentID == cloud.ProviderRootID {
		return nil
	}
	parent, ok := m.items[parentID]
	if !ok || !parent.res.IsFolder() {
		return &cloud.StatusError{Op: op, StatusCode: http.StatusNotFound, Message: "parent folder not found: " + parentID}
	}
	return nil
}

func (m *MemoryClient) insertLocked(name, mimeType, parentID string, body []byte) *memoryItem {
	now := m.clock.Now()
	m.seq++
	item := &memoryItem{
		res: cloud.Resource{
			ID:           m.idgen.New(),
			Name:         name,
			MimeType:     mimeType,
			CreatedTime:  now,
			ModifiedTime: now,
			Size:         int64(len(body)),
		},
		parents: mapset.NewSet(parentID),
		content: slices.Clone(body),
		seq:     m.seq,
	}
	m.items[item.res.ID] = item
	return item
}

// matchLocked returns snapshots of every item matching q in creation order.
func (m *MemoryClient) matchLocked(q cloud.Query) []*cloud.Resource {
	var matched []*memoryItem
	for _, item := range m.items {
		if q.ParentID != "" && !item.parents.Contains(q.ParentID) {
			continue
		}
		snap := item.snapshot()
		if q.Matches(snap) {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]*cloud.Resource, len(matched))
	for i, item := range matched {
		out[i] = item.snapshot()
	}
	return out
}

func (item *memoryItem) snapshot() *cloud.Resource {
	r := item.res
	r.Parents = item.parents.ToSlice()
	sort.Strings(r.Parents)
	if item.res.Properties != nil {
		r.Properties = make(map[string]string, len(item.res.Properties))
		for k, v := range item.res.Properties {
			r.Properties[k] = v
		}
	}
	return &r
}

// Compile-time check that MemoryClient implements cloud.ResourceClient
var _ cloud.ResourceClient = (*MemoryClient)(nil)
