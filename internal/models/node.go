package models

import "time"

const (
	KindFile      = "file"
	KindDirectory = "directory"
)

const (
	OrderByName      = "name"
	OrderByCreatedAt = "created_at"
)

type Node struct {
	ID         string    `json:"id" example:"V1StGXR8_Z5jdHi6B-myT"`
	OwnerID    int64     `json:"owner_id" example:"1"`
	ParentID   *string   `json:"parent_id"`
	Kind       string    `json:"kind" example:"file" enums:"file,directory"`
	Name       string    `json:"name" example:"a.jpg"`
	Extension  string    `json:"extension,omitempty" example:"image/jpeg"`
	ContentRef string    `json:"-"`
	URL        string    `json:"url,omitempty"`
	SizeBytes  int64     `json:"size_bytes" example:"400"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (n *Node) IsDirectory() bool {
	return n.Kind == KindDirectory
}

// ListOptions filters and orders the children of a directory. Zero values
// disable the filters and order by name.
type ListOptions struct {
	Kind      string
	ExtPrefix string
	OrderBy   string
}

func (o ListOptions) Normalize() ListOptions {
	if o.Kind == "any" {
		o.Kind = ""
	}
	if o.ExtPrefix == "all" {
		o.ExtPrefix = ""
	}
	if o.OrderBy != OrderByCreatedAt {
		o.OrderBy = OrderByName
	}
	return o
}

// Less reports whether a sorts before b: directories first, then the order
// key descending, then id ascending.
func (o ListOptions) Less(a, b *Node) bool {
	if a.IsDirectory() != b.IsDirectory() {
		return a.IsDirectory()
	}
	switch o.Normalize().OrderBy {
	case OrderByCreatedAt:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
	default:
		if a.Name != b.Name {
			return a.Name > b.Name
		}
	}
	return a.ID < b.ID
}

type DeleteReport struct {
	FreedBytes int64  `json:"freed_bytes" example:"300"`
	Nodes      []Node `json:"-"`
}

func (r *DeleteReport) IDs() []string {
	ids := make([]string, 0, len(r.Nodes))
	for _, n := range r.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

type CloneReport struct {
	RootID         string `json:"root_id" example:"V1StGXR8_Z5jdHi6B-myT"`
	NodesCloned    int    `json:"nodes_cloned" example:"3"`
	BytesCommitted int64  `json:"bytes_committed" example:"600"`
}

type StoredObject struct {
	Key  string
	URL  string
	Size int64
}
