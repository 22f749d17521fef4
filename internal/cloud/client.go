package cloud

import (
	"context"
	"strings"
)

// ResourceClient is the generic, kind-agnostic interface to the remote
// hierarchical store. Every method is a single remote call or a paginated loop.
type ResourceClient interface {
	// FindByNameAndParent returns the first non-trashed resource with an exact
	// name inside parentID, or (nil, nil) when there is none.
	// An empty mimeType matches any type.
	FindByNameAndParent(ctx context.Context, name, parentID, mimeType string) (*Resource, error)

	// CreateFolder creates a folder named name inside parentID.
	CreateFolder(ctx context.Context, name, parentID string) (*Resource, error)

	// UploadOrReplace upserts a file by name+parent: an existing file has its
	// content replaced in place, otherwise a new file is created inside parentID.
	UploadOrReplace(ctx context.Context, parentID, name, mimeType string, body []byte) (*Resource, error)

	// Move reparents a resource from one folder to another in one call.
	Move(ctx context.Context, resourceID, fromParent, toParent string) error

	// Delete permanently removes a resource. Deleting a resource that is
	// already gone succeeds.
	Delete(ctx context.Context, resourceID string) error

	// ListAll returns every resource matching q, following continuation tokens.
	ListAll(ctx context.Context, q Query) ([]*Resource, error)

	// Download returns the raw content of a file.
	Download(ctx context.Context, resourceID string) ([]byte, error)

	// SetProperties attaches string tags to a resource without touching content.
	// An empty value removes the tag.
	SetProperties(ctx context.Context, resourceID string, props map[string]string) error

	// EmptyProviderTrash permanently removes everything in the provider's own trash.
	EmptyProviderTrash(ctx context.Context) error
}

// Query is a list filter over parent membership, name and type.
// Trashed resources (provider-level trash) are always excluded.
type Query struct {
	ParentID string
	Name     string
	MimeType string
	// FilesOnly excludes folders.
	FilesOnly bool
	// Fields is the partial-response field mask for transports that support it.
	Fields string
}

// String renders q in Drive query syntax.
func (q Query) String() string {
	clauses := []string{"trashed = false"}
	if q.ParentID != "" {
		clauses = append(clauses, "'"+escapeQueryValue(q.ParentID)+"' in parents")
	}
	if q.Name != "" {
		clauses = append(clauses, "name = '"+escapeQueryValue(q.Name)+"'")
	}
	if q.MimeType != "" {
		clauses = append(clauses, "mimeType = '"+escapeQueryValue(q.MimeType)+"'")
	}
	if q.FilesOnly {
		clauses = append(clauses, "mimeType != '"+FolderMimeType+"'")
	}
	return strings.Join(clauses, " and ")
}

// Matches reports whether r satisfies q. Used by in-process stores.
func (q Query) Matches(r *Resource) bool {
	if q.ParentID != "" && !r.HasParent(q.ParentID) {
		return false
	}
	if q.Name != "" && r.Name != q.Name {
		return false
	}
	if q.MimeType != "" && r.MimeType != q.MimeType {
		return false
	}
	if q.FilesOnly && r.IsFolder() {
		return false
	}
	return true
}

func escapeQueryValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
