// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/CrawX/go-imap-indexer/config"
	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func info(name, delimiter string, attributes ...string) *imap.MailboxInfo {
	return &imap.MailboxInfo{Name: name, Delimiter: delimiter, Attributes: attributes}
}

func TestBuildFolderTree(t *testing.T) {
	tests := []struct {
		name     string
		infos    []*imap.MailboxInfo
		expected []*domain.FolderNode
	}{
		{
			"flat",
			[]*imap.MailboxInfo{info("INBOX", "/"), info("Sent", "/")},
			[]*domain.FolderNode{
				{Name: "INBOX", Delimiter: "/", Selectable: true},
				{Name: "Sent", Delimiter: "/", Selectable: true},
			},
		},
		{
			"nested",
			[]*imap.MailboxInfo{
				info("INBOX.Archive.2023", "."),
				info("INBOX", ".", imap.HasChildrenAttr),
				info("INBOX.Archive", ".", imap.HasChildrenAttr),
			},
			[]*domain.FolderNode{
				{Name: "INBOX", Delimiter: ".", Selectable: true, Children: []*domain.FolderNode{
					{Name: "Archive", Delimiter: ".", Selectable: true, Children: []*domain.FolderNode{
						{Name: "2023", Delimiter: ".", Selectable: true},
					}},
				}},
			},
		},
		{
			"noselect",
			[]*imap.MailboxInfo{
				info("[Gmail]", "/", imap.NoSelectAttr, imap.HasChildrenAttr),
				info("[Gmail]/All Mail", "/"),
				info("Gone", "/", "\\NonExistent"),
			},
			[]*domain.FolderNode{
				{Name: "[Gmail]", Delimiter: "/", Selectable: false, Children: []*domain.FolderNode{
					{Name: "All Mail", Delimiter: "/", Selectable: true},
				}},
				{Name: "Gone", Delimiter: "/", Selectable: false},
			},
		},
		{
			"implicitparent",
			[]*imap.MailboxInfo{info("Projects/Alpha", "/")},
			[]*domain.FolderNode{
				{Name: "Projects", Delimiter: "/", Selectable: false, Children: []*domain.FolderNode{
					{Name: "Alpha", Delimiter: "/", Selectable: true},
				}},
			},
		},
		{
			"nodelimiter",
			[]*imap.MailboxInfo{info("INBOX", "")},
			[]*domain.FolderNode{
				{Name: "INBOX", Delimiter: "", Selectable: true},
			},
		},
		{
			"empty",
			[]*imap.MailboxInfo{},
			[]*domain.FolderNode{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, buildFolderTree(tc.infos))
		})
	}
}

func TestTranslateUpdatesCoalesces(t *testing.T) {
	log.InitLogging("error")

	is := NewImapSession(config.Account{Name: "test"}, "")
	updates := make(chan client.Update)
	loggedOut := make(chan struct{})
	done := make(chan struct{})
	go func() {
		is.translateUpdates(updates, loggedOut)
		close(done)
	}()

	updates <- &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Name: "INBOX"}}
	updates <- &client.StatusUpdate{}
	updates <- &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Name: "INBOX"}}
	close(loggedOut)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("translator did not stop after logout")
	}

	assert.Len(t, is.NewMail(), 1)
}

func TestCloseWithoutConnect(t *testing.T) {
	log.InitLogging("error")

	is := NewImapSession(config.Account{Name: "test"}, "")
	assert.Nil(t, is.Close())
	assert.Nil(t, is.Close())
}

func TestConnectAfterClose(t *testing.T) {
	log.InitLogging("error")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	dropped := make(chan struct{})
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("* OK IMAP4rev1 ready\r\n"))
		r := bufio.NewReader(conn)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				close(dropped)
				return
			}
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	is := NewImapSession(config.Account{Name: "test", Host: "127.0.0.1", Port: addr.Port, Tls: config.TlsNone}, "")
	assert.Nil(t, is.Close())

	err = is.Connect()
	assert.True(t, errors.Is(err, domain.ErrConnection), "unexpected error %v", err)
	assert.Nil(t, is.connection)

	select {
	case <-dropped:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not torn down")
	}
}
