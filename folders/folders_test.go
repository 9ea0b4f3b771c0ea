// SPDX-License-Identifier: GPL-3.0-or-later
package folders

import (
	"testing"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/stretchr/testify/assert"
)

func node(name, delimiter string, children ...*domain.FolderNode) *domain.FolderNode {
	return &domain.FolderNode{Name: name, Delimiter: delimiter, Selectable: true, Children: children}
}

func virtual(name, delimiter string, children ...*domain.FolderNode) *domain.FolderNode {
	n := node(name, delimiter, children...)
	n.Selectable = false
	return n
}

func TestResolve(t *testing.T) {
	tree := []*domain.FolderNode{
		node("INBOX", "/",
			node("Sent", "/"),
			node("Clients", "/",
				node("Acme", "."),
			),
		),
		virtual("[Gmail]", "/",
			node("All Mail", "/"),
		),
		node("Archive", ""),
	}

	tests := []struct {
		name     string
		mode     Mode
		expected []string
	}{
		{"leaves", Leaves, []string{"INBOX/Sent", "INBOX/Clients.Acme", "[Gmail]/All Mail", "Archive"}},
		{"all", All, []string{"INBOX", "INBOX/Sent", "INBOX/Clients", "INBOX/Clients.Acme", "[Gmail]/All Mail", "Archive"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Resolve(tree, tc.mode))
		})
	}
}

func TestResolveEmpty(t *testing.T) {
	assert.Empty(t, Resolve(nil, All))
	assert.Empty(t, Resolve([]*domain.FolderNode{virtual("Shared", "/")}, Leaves))
}

func TestResolveDuplicates(t *testing.T) {
	tree := []*domain.FolderNode{node("INBOX", "/"), node("INBOX", "/")}
	assert.Equal(t, []string{"INBOX"}, Resolve(tree, All))
}
