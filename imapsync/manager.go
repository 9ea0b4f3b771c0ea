// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/folders"
	"github.com/CrawX/go-imap-indexer/ingest"
	"github.com/CrawX/go-imap-indexer/log"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const BatchSize = 50

type State int32

const (
	Disconnected State = iota
	Connecting
	Backfilling
	Steady
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Backfilling:
		return "backfilling"
	case Steady:
		return "steady"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SessionFactory returns a fresh, unconnected session. It is called once per connection attempt.
type SessionFactory func() domain.MailSession

type Ingester interface {
	Cutoff() time.Time
	IngestBatch(ctx context.Context, account, folder string, mails []*domain.RawMail) ingest.Stats
}

// Manager keeps one account in sync: connect, backfill all folders, then follow the primary folder
// until the connection breaks, and start over after a backoff.
type Manager struct {
	account        string
	sessionFactory SessionFactory
	persistence    domain.Persistence
	ingester       Ingester

	configuration *configuration

	state atomic.Int32

	l *logrus.Entry
}

func NewManager(account string, sessionFactory SessionFactory, persistence domain.Persistence, ingester Ingester, configFunc ...ConfigFunc) (*Manager, error) {
	config := defaultConfiguration()
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &Manager{
		account:        account,
		sessionFactory: sessionFactory,
		persistence:    persistence,
		ingester:       ingester,
		configuration:  config,
		l:              log.Logger(log.LOG_SYNC).WithField("account", account),
	}, nil
}

func (m *Manager) Account() string {
	return m.account
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		m.l.WithFields(logrus.Fields{"from": old, "to": s}).Info("State changed")
	}
}

// Run syncs the account until ctx is cancelled. Connection errors never end it.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Stopped)

	for {
		err := m.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}

		m.setState(Disconnected)
		m.l.WithFields(logrus.Fields{"error": err, "backoff": m.configuration.ReconnectBackoff}).Warn("Session ended, reconnecting after backoff")
		if !sleep(ctx, m.configuration.ReconnectBackoff) {
			return nil
		}
	}
}

func (m *Manager) runSession(ctx context.Context) error {
	m.setState(Connecting)
	session := m.sessionFactory()

	// Closing the session is what unblocks a running IDLE or FETCH on cancellation.
	stopClose := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})
	defer func() {
		stopClose()
		_ = session.Close()
	}()

	err := session.Connect()
	if err != nil {
		return err
	}
	m.l.Debug("Connected")

	m.setState(Backfilling)
	err = m.backfill(ctx, session)
	if err != nil {
		return err
	}

	m.setState(Steady)
	return m.steady(ctx, session)
}

func (m *Manager) backfill(ctx context.Context, session domain.MailSession) error {
	start := time.Now()
	logger := m.l.WithField("pass", uuid.New().String())

	paths, err := m.folders(session)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"folders": len(paths)}).Info("Starting backfill")

	total := ingest.Stats{}
	for i, f := range paths {
		if i > 0 && !sleep(ctx, m.configuration.FolderDelay) {
			return ctx.Err()
		}

		stats, err := m.syncFolder(ctx, session, f)
		total = addStats(total, stats)
		if errors.Is(err, domain.ErrConnection) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.WithFields(logrus.Fields{"folder": f, "error": err}).Warn("Skipping folder")
			continue
		}
	}

	logger.WithFields(total.Fields()).WithField("duration", time.Since(start)).Info("Finished backfill")
	return nil
}

// folders lists the sync targets. A failing LIST degrades to the primary folder alone.
func (m *Manager) folders(session domain.MailSession) ([]string, error) {
	roots, err := session.ListFolders()
	if errors.Is(err, domain.ErrConnection) {
		return nil, err
	}
	if err != nil {
		m.l.WithField("error", err).Warn("Could not list folders, syncing primary folder only")
		return []string{m.configuration.PrimaryFolder}, nil
	}

	paths := folders.Resolve(roots, m.configuration.FolderMode)
	if len(paths) == 0 {
		m.l.Warn("Server reported no selectable folders, syncing primary folder only")
		return []string{m.configuration.PrimaryFolder}, nil
	}

	return paths, nil
}

func (m *Manager) syncFolder(ctx context.Context, session domain.MailSession, folder string) (ingest.Stats, error) {
	err := m.selectFolder(ctx, session, folder)
	if err != nil {
		return ingest.Stats{}, err
	}

	return m.syncSelected(ctx, session, folder)
}

func (m *Manager) selectFolder(ctx context.Context, session domain.MailSession, folder string) error {
	uidValidity, err := session.Select(folder)
	if err != nil {
		return err
	}

	known, ok, err := m.persistence.FolderValidity(ctx, m.account, folder)
	if err != nil {
		return fmt.Errorf("could not load uidvalidity for %s: %w", folder, err)
	}
	if ok && known != uidValidity {
		m.l.WithFields(logrus.Fields{"folder": folder, "old": known, "new": uidValidity}).Warn("UIDVALIDITY changed, mails with reused uids will not be indexed again")
	}

	err = m.persistence.SaveFolder(ctx, m.account, folder, uidValidity)
	if err != nil {
		return fmt.Errorf("could not save uidvalidity for %s: %w", folder, err)
	}

	return nil
}

// syncSelected ingests everything in the selected folder that is newer than the stored cursor and
// inside the retention window. A failed fetch ends the folder so the cursor never skips a batch.
func (m *Manager) syncSelected(ctx context.Context, session domain.MailSession, folder string) (ingest.Stats, error) {
	logger := m.l.WithField("folder", folder)
	total := ingest.Stats{}

	newMailUids, err := m.newMailUids(ctx, session, folder)
	if err != nil {
		return total, err
	}
	if len(newMailUids) == 0 {
		logger.Debug("Folder contains no new mails")
		return total, nil
	}

	batches := partitionUids(newMailUids, BatchSize)
	logger.WithFields(logrus.Fields{"newmails": len(newMailUids), "batches": len(batches)}).Info("Found mails to index")

	for _, batch := range batches {
		start := time.Now()
		mails, err := session.FetchMails(batch)
		if err != nil {
			return total, fmt.Errorf("could not fetch mail batch: %w", err)
		}
		logger.WithFields(logrus.Fields{"duration": time.Since(start), "batchsize": len(batch)}).Debug("Fetched mail batch")

		stats := m.ingester.IngestBatch(ctx, m.account, folder, mails)
		total = addStats(total, stats)
		logger.WithFields(stats.Fields()).WithField("duration", time.Since(start)).Info("Indexed batch")

		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	return total, nil
}

func (m *Manager) newMailUids(ctx context.Context, session domain.MailSession, folder string) ([]uint32, error) {
	last, err := m.persistence.LastUid(ctx, m.account, folder)
	if err != nil {
		return nil, fmt.Errorf("could not load cursor for %s: %w", folder, err)
	}

	uids, err := session.SearchSince(m.ingester.Cutoff())
	if err != nil {
		return nil, err
	}

	newMails := []uint32{}
	for _, uid := range uids {
		if uid > last {
			newMails = append(newMails, uid)
		}
	}
	sort.Slice(newMails, func(i, j int) bool { return newMails[i] < newMails[j] })

	m.l.WithFields(logrus.Fields{"folder": folder, "cursor": last, "found": len(uids), "new": len(newMails)}).Debug("Searched folder")
	return newMails, nil
}

// steady follows the primary folder with IDLE. Every new-mail signal and every keepalive tick
// interrupts the IDLE, the command runs, then IDLE resumes.
func (m *Manager) steady(ctx context.Context, session domain.MailSession) error {
	primary := m.configuration.PrimaryFolder
	logger := m.l.WithField("folder", primary)

	err := m.selectFolder(ctx, session, primary)
	if err != nil {
		return fmt.Errorf("could not open primary folder: %w", err)
	}

	err = m.deltaSync(ctx, session)
	if err != nil {
		return err
	}

	keepalive := time.NewTicker(m.configuration.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- session.Idle(stop)
		}()
		logger.Debug("Waiting for new mail")

		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return ctx.Err()
		case err := <-done:
			close(stop)
			if err != nil {
				return fmt.Errorf("idle ended: %w", err)
			}
		case <-session.NewMail():
			close(stop)
			if err := <-done; err != nil {
				return fmt.Errorf("idle ended: %w", err)
			}
			logger.Debug("New mail signalled")
			err = m.deltaSync(ctx, session)
			if err != nil {
				return err
			}
		case <-keepalive.C:
			close(stop)
			if err := <-done; err != nil {
				return fmt.Errorf("idle ended: %w", err)
			}
			if err := session.Noop(); err != nil {
				logger.WithField("error", err).Warn("Keepalive failed")
			}
		}
	}
}

// deltaSync runs one sync of the selected primary folder. Only a lost connection is fatal here.
func (m *Manager) deltaSync(ctx context.Context, session domain.MailSession) error {
	_, err := m.syncSelected(ctx, session, m.configuration.PrimaryFolder)
	if errors.Is(err, domain.ErrConnection) || (err != nil && ctx.Err() != nil) {
		return err
	}
	if err != nil {
		m.l.WithFields(logrus.Fields{"folder": m.configuration.PrimaryFolder, "error": err}).Warn("Delta sync failed")
	}

	return nil
}

func addStats(a, b ingest.Stats) ingest.Stats {
	return ingest.Stats{
		Persisted:      a.Persisted + b.Persisted,
		AlreadyIndexed: a.AlreadyIndexed + b.AlreadyIndexed,
		Malformed:      a.Malformed + b.Malformed,
		TooOld:         a.TooOld + b.TooOld,
		Failed:         a.Failed + b.Failed,
		Notified:       a.Notified + b.Notified,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// taken from https://github.com/golang/go/wiki/SliceTricks
func partitionUids(uids []uint32, partitionSize int) [][]uint32 {
	batches := make([][]uint32, 0, (len(uids)+partitionSize-1)/partitionSize)

	for partitionSize < len(uids) {
		uids, batches = uids[partitionSize:], append(batches, uids[0:partitionSize:partitionSize])
	}
	batches = append(batches, uids)

	return batches
}
