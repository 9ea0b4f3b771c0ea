// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/CrawX/go-imap-indexer/config"
	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"

	"github.com/emersion/go-imap"
	compress "github.com/emersion/go-imap-compress"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

const (
	CommandTimeout = 2 * time.Minute

	nonExistentAttr = "\\NonExistent"
)

// ImapSession is a single connection to one account. It is not safe for concurrent use, apart from
// Close which may be called at any time to abort a blocking command.
type ImapSession struct {
	account  config.Account
	password string

	connection *client.Client
	updates    chan client.Update
	newMail    chan struct{}

	selectedFolder string

	closed bool
	mu     sync.Mutex

	l *logrus.Entry
}

func NewImapSession(account config.Account, password string) *ImapSession {
	return &ImapSession{
		account:  account,
		password: password,
		newMail:  make(chan struct{}, 1),
		l:        log.Logger(log.LOG_IMAP).WithField("account", account.Name),
	}
}

func (is *ImapSession) Connect() error {
	c, err := is.dial()
	if err != nil {
		return fmt.Errorf("%w: could not dial %s: %v", domain.ErrConnection, is.account.Address(), err)
	}
	c.Timeout = CommandTimeout

	is.mu.Lock()
	if is.closed {
		is.mu.Unlock()
		_ = c.Terminate()
		return fmt.Errorf("%w: session closed while connecting", domain.ErrConnection)
	}
	is.connection = c
	is.mu.Unlock()

	err = c.Login(is.account.User, is.password)
	if err != nil {
		return fmt.Errorf("%w: could not login: %v", domain.ErrConnection, err)
	}
	is.l.WithField("server", is.account.Address()).Debug("Logged in to server")

	if is.account.Compress {
		is.enableCompression(c)
	}

	is.updates = make(chan client.Update, 16)
	c.Updates = is.updates
	go is.translateUpdates(is.updates, c.LoggedOut())

	return nil
}

func (is *ImapSession) dial() (*client.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         is.account.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: is.account.InsecureSkipVerify,
	}

	switch is.account.Tls {
	case config.TlsNone:
		return client.Dial(is.account.Address())
	case config.TlsStartTls:
		c, err := client.Dial(is.account.Address())
		if err != nil {
			return nil, err
		}
		err = c.StartTLS(tlsConfig)
		if err != nil {
			_ = c.Terminate()
			return nil, fmt.Errorf("could not start tls: %w", err)
		}
		return c, nil
	default:
		return client.DialTLS(is.account.Address(), tlsConfig)
	}
}

func (is *ImapSession) enableCompression(c *client.Client) {
	cc := compress.NewClient(c)
	supported, err := cc.SupportCompress(compress.Deflate)
	if err != nil {
		is.l.WithField("error", err).Warn("Could not check for COMPRESS support")
		return
	}
	if !supported {
		is.l.Info("COMPRESS not supported on server, continuing uncompressed")
		return
	}

	err = cc.Compress(compress.Deflate)
	if err != nil {
		is.l.WithField("error", err).Warn("Could not enable compression, continuing uncompressed")
		return
	}
	is.l.Debug("Enabled DEFLATE compression")
}

// translateUpdates drains the client's unilateral updates. The client blocks while its update
// channel is full, so this must keep reading until the connection is gone.
func (is *ImapSession) translateUpdates(updates <-chan client.Update, loggedOut <-chan struct{}) {
	for {
		select {
		case <-loggedOut:
			return
		case u := <-updates:
			if _, ok := u.(*client.MailboxUpdate); !ok {
				continue
			}
			select {
			case is.newMail <- struct{}{}:
			default:
			}
		}
	}
}

func (is *ImapSession) NewMail() <-chan struct{} {
	return is.newMail
}

func (is *ImapSession) ListFolders() ([]*domain.FolderNode, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- is.connection.List("", "*", mailboxes)
	}()

	infos := []*imap.MailboxInfo{}
	for m := range mailboxes {
		infos = append(infos, m)
	}

	err := <-done
	if err != nil {
		return nil, is.classify(fmt.Errorf("could not list folders: %w", err))
	}

	return buildFolderTree(infos), nil
}

// buildFolderTree turns the flat LIST response into a hierarchy. Parents the server did not report
// are added as non-selectable nodes.
func buildFolderTree(infos []*imap.MailboxInfo) []*domain.FolderNode {
	roots := []*domain.FolderNode{}
	byPath := map[string]*domain.FolderNode{}

	for _, info := range infos {
		segments := []string{info.Name}
		if info.Delimiter != "" {
			segments = strings.Split(info.Name, info.Delimiter)
		}

		siblings := &roots
		path := ""
		for i, segment := range segments {
			if i == 0 {
				path = segment
			} else {
				path = path + info.Delimiter + segment
			}

			node, ok := byPath[path]
			if !ok {
				node = &domain.FolderNode{
					Name:      segment,
					Delimiter: info.Delimiter,
				}
				byPath[path] = node
				*siblings = append(*siblings, node)
			}
			if i == len(segments)-1 {
				node.Selectable = selectable(info.Attributes)
			}
			siblings = &node.Children
		}
	}

	return roots
}

func selectable(attributes []string) bool {
	for _, a := range attributes {
		if strings.EqualFold(a, imap.NoSelectAttr) || strings.EqualFold(a, nonExistentAttr) {
			return false
		}
	}
	return true
}

func (is *ImapSession) Select(folder string) (uint32, error) {
	m, err := is.connection.Select(folder, true)
	if err != nil {
		return 0, is.classifyFolder(fmt.Errorf("could not select folder %s: %w", folder, err))
	}

	is.selectedFolder = folder
	return m.UidValidity, nil
}

func (is *ImapSession) SearchSince(cutoff time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = cutoff
	uids, err := is.connection.UidSearch(criteria)
	if err != nil {
		return nil, is.classify(fmt.Errorf("could not search folder %s: %w", is.selectedFolder, err))
	}

	return uids, nil
}

func (is *ImapSession) FetchMails(uids []uint32) ([]*domain.RawMail, error) {
	if len(uids) == 0 {
		return []*domain.RawMail{}, nil
	}

	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, 10)
	fullBodySection := &imap.BodySectionName{
		Peek: true,
	}

	fetchItems := []imap.FetchItem{imap.FetchUid, fullBodySection.FetchItem()}
	done := make(chan error, 1)
	go func() {
		done <- is.connection.UidFetch(seqset, fetchItems, messages)
	}()

	mails := []*domain.RawMail{}
	var readErr error
	for msg := range messages {
		if readErr != nil {
			continue
		}

		r := msg.GetBody(fullBodySection)
		if r == nil {
			is.l.WithField("uid", msg.Uid).Warn("Server returned no body for message")
			continue
		}
		rawBody, err := io.ReadAll(r)
		if err != nil {
			readErr = fmt.Errorf("could not read mail body: %w", err)
			continue
		}

		mails = append(mails, &domain.RawMail{
			Uid:     msg.Uid,
			RawMail: rawBody,
		})
	}

	err := <-done
	if err != nil {
		return nil, is.classify(fmt.Errorf("could not fetch mails: %w", err))
	}
	if readErr != nil {
		return nil, is.classify(readErr)
	}

	return mails, nil
}

func (is *ImapSession) Idle(stop <-chan struct{}) error {
	err := is.connection.Idle(stop, nil)
	if err != nil {
		return is.classify(fmt.Errorf("idle failed: %w", err))
	}

	return nil
}

func (is *ImapSession) Noop() error {
	err := is.connection.Noop()
	if err != nil {
		return is.classify(fmt.Errorf("noop failed: %w", err))
	}

	return nil
}

// Close aborts any running command and tears the connection down. Calling it more than once is a
// no-op.
func (is *ImapSession) Close() error {
	is.mu.Lock()
	if is.closed {
		is.mu.Unlock()
		return nil
	}
	is.closed = true
	c := is.connection
	is.mu.Unlock()

	// a Connect still dialing sees closed and drops its client
	if c == nil {
		return nil
	}

	if c.State() == imap.SelectedState || c.State() == imap.AuthenticatedState {
		done := make(chan error, 1)
		go func() {
			done <- c.Logout()
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return c.Terminate()
		}
	}
	return c.Terminate()
}

func (is *ImapSession) connectionLost() bool {
	select {
	case <-is.connection.LoggedOut():
		return true
	default:
		return is.connection.State() == imap.LogoutState
	}
}

func (is *ImapSession) classify(err error) error {
	if is.connectionLost() {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
}

// classifyFolder treats a server rejection of a SELECT as the folder being unusable while the
// connection itself stays healthy.
func (is *ImapSession) classifyFolder(err error) error {
	if is.connectionLost() {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	if errors.Is(err, client.ErrNotLoggedIn) {
		return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrFolderUnavailable, err)
}
