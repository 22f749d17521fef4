package cloud

import (
	"fmt"
	"time"
)

// ResourceKind identifies one of the three backed-up entity kinds.
type ResourceKind string

const (
	KindTemplate      ResourceKind = "template"
	KindActiveSession ResourceKind = "session"
	KindHistoryRecord ResourceKind = "history"
)

// AllKinds lists every resource kind in folder-creation order.
var AllKinds = []ResourceKind{KindTemplate, KindActiveSession, KindHistoryRecord}

// ParseResourceKind converts a CLI or config string into a ResourceKind.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch s {
	case "template", "templates":
		return KindTemplate, nil
	case "session", "sessions", "active":
		return KindActiveSession, nil
	case "history", "record", "records":
		return KindHistoryRecord, nil
	default:
		return "", fmt.Errorf("unknown resource kind: %s", s)
	}
}

// ActiveFolderName is the name of the kind's active folder under the root.
func (k ResourceKind) ActiveFolderName() string {
	switch k {
	case KindTemplate:
		return "Templates"
	case KindActiveSession:
		return "ActiveSessions"
	case KindHistoryRecord:
		return "History"
	}
	return ""
}

// TrashFolderName is the name of the kind's trash folder under the root.
func (k ResourceKind) TrashFolderName() string {
	return "Trash_" + k.ActiveFolderName()
}

// FolderName returns the active or trash folder name for the given mode.
func (k ResourceKind) FolderName(mode ListMode) string {
	if mode == ModeTrash {
		return k.TrashFolderName()
	}
	return k.ActiveFolderName()
}

// Valid reports whether k is one of the known kinds.
func (k ResourceKind) Valid() bool {
	return k.ActiveFolderName() != ""
}

// ListMode selects between a kind's active folder and its trash folder.
type ListMode string

const (
	ModeActive ListMode = "active"
	ModeTrash  ListMode = "trash"
)

// ParseListMode converts a CLI string into a ListMode.
func ParseListMode(s string) (ListMode, error) {
	switch s {
	case "active", "":
		return ModeActive, nil
	case "trash":
		return ModeTrash, nil
	default:
		return "", fmt.Errorf("unknown list mode: %s", s)
	}
}

// FolderMimeType marks a remote resource as a folder.
const FolderMimeType = "application/vnd.google-apps.folder"

// JSONMimeType is used for every snapshot payload.
const JSONMimeType = "application/json"

// Resource is a remote file or folder.
// Its lifecycle state (active or trashed) is its parent folder, never a field.
type Resource struct {
	ID           string
	Name         string
	MimeType     string
	Parents      []string
	CreatedTime  time.Time
	ModifiedTime time.Time
	Size         int64
	Properties   map[string]string
}

// IsFolder reports whether the resource is a folder.
func (r *Resource) IsFolder() bool {
	return r.MimeType == FolderMimeType
}

// HasParent reports whether parentID is one of the resource's parents.
func (r *Resource) HasParent(parentID string) bool {
	for _, p := range r.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}

// FileInfo is the minimal projection returned by FetchFileList.
type FileInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CreatedTime time.Time         `json:"createdTime"`
	Properties  map[string]string `json:"properties,omitempty"`
}
