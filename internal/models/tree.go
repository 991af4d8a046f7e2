package models

// NodeType is the kind of entry in a deployment file tree
type NodeType string

const (
	NodeTypeFile      NodeType = "file"
	NodeTypeDirectory NodeType = "directory"
)

// TreeNode represents a file or directory in a deployment file tree
type TreeNode struct {
	Name     string     `json:"name"`
	Type     NodeType   `json:"type"`
	UID      string     `json:"uid,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// IsDirectory reports whether the node is a directory that carries a children list.
// Directories the API returns without children are not walked.
func (n TreeNode) IsDirectory() bool {
	return n.Type == NodeTypeDirectory && n.Children != nil
}

// IsFile reports whether the node is a file with an addressable uid
func (n TreeNode) IsFile() bool {
	return n.Type == NodeTypeFile && n.UID != ""
}

// FileContent is the body returned for a single file
type FileContent struct {
	Data string `json:"data,omitempty"`
}

// HasData reports whether the response carries retrievable content
func (c FileContent) HasData() bool {
	return c.Data != ""
}
