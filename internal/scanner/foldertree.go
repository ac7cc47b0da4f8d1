package scanner

import (
	"path/filepath"
	"strings"
)

// FolderNode mirrors the on-disk folder layout: nested child folders plus the
// audio file names found directly inside a folder. The scan result carries
// this tree so the presentation layer can show something immediately, before
// the genre hierarchy is rebuilt from the store.
type FolderNode struct {
	Children map[string]*FolderNode `json:"children,omitempty"`
	Tracks   []string               `json:"tracks,omitempty"`
}

func newFolderTree() *FolderNode {
	return &FolderNode{}
}

// addTrack records fileName under the folder at relDir (relative to the scan
// root, "" or "." meaning the root itself), creating intermediate nodes as
// needed.
func (n *FolderNode) addTrack(relDir string, fileName string) {
	node := n
	for _, part := range strings.Split(filepath.ToSlash(relDir), "/") {
		if part == "" || part == "." {
			continue
		}
		if node.Children == nil {
			node.Children = make(map[string]*FolderNode)
		}
		child, ok := node.Children[part]
		if !ok {
			child = &FolderNode{}
			node.Children[part] = child
		}
		node = child
	}

	node.Tracks = append(node.Tracks, fileName)
}

// prune drops branches that bottom out with no tracks, so the displayed tree
// only contains folders that actually lead somewhere.
func (n *FolderNode) prune() {
	for name, child := range n.Children {
		child.prune()
		if child.isEmpty() {
			delete(n.Children, name)
		}
	}
	if len(n.Children) == 0 {
		n.Children = nil
	}
}

func (n *FolderNode) isEmpty() bool {
	return len(n.Tracks) == 0 && len(n.Children) == 0
}
