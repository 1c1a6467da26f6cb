package vika

// Record is a datasheet row.
type Record struct {
	RecordID  string         `json:"recordId"`
	Fields    map[string]any `json:"fields"`
	CreatedAt int64          `json:"createdAt,omitempty"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
}

// RecordUpdate replaces the given fields of an existing record.
type RecordUpdate struct {
	RecordID string         `json:"recordId"`
	Fields   map[string]any `json:"fields"`
}

// RecordQuery narrows a record listing. An empty PageToken requests every
// page; otherwise only the page it names is returned.
type RecordQuery struct {
	ViewID        string
	PageSize      int
	PageToken     string
	FilterFormula string
}

type Space struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// Node types as reported by the nodes API.
const (
	NodeTypeFolder    = "Folder"
	NodeTypeDatasheet = "Datasheet"
)

// Node is an entry in a space's file tree. Children are only populated when
// a single folder is fetched.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Icon     string `json:"icon,omitempty"`
	IsFav    bool   `json:"isFav,omitempty"`
	Children []Node `json:"children,omitempty"`
}

type View struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type Field struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	IsPrimary  bool           `json:"isPrimary,omitempty"`
	Editable   bool           `json:"editable,omitempty"`
	Desc       string         `json:"desc,omitempty"`
	Properties map[string]any `json:"property,omitempty"`
}
