// SPDX-License-Identifier: GPL-3.0-or-later
package folders

import (
	"github.com/CrawX/go-imap-indexer/domain"
)

type Mode int

const (
	// Leaves surfaces only selectable folders without subfolders.
	Leaves Mode = iota
	// All surfaces every selectable folder.
	All
)

// Resolve flattens the folder tree depth-first. Every path is joined with the delimiter of the
// node it leads to, since servers may report different delimiters for different subtrees.
func Resolve(roots []*domain.FolderNode, mode Mode) []string {
	paths := []string{}
	seen := map[string]bool{}

	var walk func(nodes []*domain.FolderNode, prefix string)
	walk = func(nodes []*domain.FolderNode, prefix string) {
		for _, node := range nodes {
			if node == nil {
				continue
			}

			path := node.Name
			if len(prefix) > 0 {
				path = prefix + node.Delimiter + node.Name
			}

			isLeaf := len(node.Children) == 0
			if node.Selectable && (mode == All || isLeaf) && !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}

			walk(node.Children, path)
		}
	}
	walk(roots, "")

	return paths
}
