// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

//go:generate mockgen -destination=mocks/imap.go -package=mocks . MailSession

// FolderNode is one entry of an account's mailbox hierarchy. Name is the last path segment,
// Delimiter is the separator the server reported for this node.
type FolderNode struct {
	Name       string
	Delimiter  string
	Selectable bool
	Children   []*FolderNode
}

type RawMail struct {
	Uid     uint32
	RawMail []byte
}

// MailSession holds exactly one live connection to an account's mail server.
type MailSession interface {
	Connect() error
	ListFolders() ([]*FolderNode, error)
	Select(folder string) (uint32, error)
	SearchSince(cutoff time.Time) ([]uint32, error)
	FetchMails(uids []uint32) ([]*RawMail, error)

	// Idle blocks until stop is closed or the connection fails. New mail on the
	// selected folder is signalled on NewMail while idling.
	Idle(stop <-chan struct{}) error
	NewMail() <-chan struct{}
	Noop() error

	Close() error
}
