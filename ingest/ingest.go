// SPDX-License-Identifier: GPL-3.0-or-later
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"
	"github.com/CrawX/go-imap-indexer/mail"

	"github.com/sirupsen/logrus"
)

const DefaultConcurrency = 8

type Outcome int

const (
	Persisted Outcome = iota
	AlreadyIndexed
	Malformed
	TooOld
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Persisted:
		return "persisted"
	case AlreadyIndexed:
		return "alreadyindexed"
	case Malformed:
		return "malformed"
	case TooOld:
		return "tooold"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stats tallies the outcomes of one batch.
type Stats struct {
	Persisted      int
	AlreadyIndexed int
	Malformed      int
	TooOld         int
	Failed         int
	Notified       int
}

func (s *Stats) add(o Outcome, notified bool) {
	switch o {
	case Persisted:
		s.Persisted++
	case AlreadyIndexed:
		s.AlreadyIndexed++
	case Malformed:
		s.Malformed++
	case TooOld:
		s.TooOld++
	case Failed:
		s.Failed++
	}
	if notified {
		s.Notified++
	}
}

func (s Stats) Fields() logrus.Fields {
	return logrus.Fields{
		"persisted":      s.Persisted,
		"alreadyindexed": s.AlreadyIndexed,
		"malformed":      s.Malformed,
		"tooold":         s.TooOld,
		"failed":         s.Failed,
		"notified":       s.Notified,
	}
}

type Option func(p *Pipeline)

// WithSpamChecker adds a spam check in front of the text rules. A positive result forces the Spam
// category.
func WithSpamChecker(sc domain.SpamChecker) Option {
	return func(p *Pipeline) {
		p.spamChecker = sc
	}
}

func WithRetentionDays(days int) Option {
	return func(p *Pipeline) {
		p.retentionDays = days
	}
}

func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Pipeline turns raw messages into stored records. It is safe for concurrent use, the store's
// create-only write is the only synchronization it relies on.
type Pipeline struct {
	store       domain.Persistence
	classifier  domain.Classifier
	spamChecker domain.SpamChecker
	notifier    domain.Notifier

	retentionDays int
	concurrency   int
	now           func() time.Time

	l *logrus.Logger
}

func NewPipeline(store domain.Persistence, classifier domain.Classifier, notifier domain.Notifier, options ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		classifier:    classifier,
		notifier:      notifier,
		retentionDays: 30,
		concurrency:   DefaultConcurrency,
		now:           time.Now,
		l:             log.Logger(log.LOG_INGEST),
	}
	for _, o := range options {
		o(p)
	}

	return p
}

// Cutoff is the oldest message date that is still accepted.
func (p *Pipeline) Cutoff() time.Time {
	return p.now().AddDate(0, 0, -p.retentionDays)
}

// Ingest runs a single message through parsing, age filter, deduplication, classification,
// persistence and notification. Only store failures are returned as errors.
func (p *Pipeline) Ingest(ctx context.Context, account, folder string, raw *domain.RawMail) (Outcome, error) {
	outcome, _, err := p.ingest(ctx, account, folder, raw)
	return outcome, err
}

func (p *Pipeline) ingest(ctx context.Context, account, folder string, raw *domain.RawMail) (Outcome, bool, error) {
	logger := p.l.WithFields(logrus.Fields{"account": account, "folder": folder, "uid": raw.Uid})

	msg, err := mail.Parse(raw.RawMail)
	if err != nil {
		logger.WithField("error", err).Warn("Dropping malformed mail")
		return Malformed, false, nil
	}
	logger = logger.WithField("subject", mail.ShortSubject(msg.Subject))

	if msg.Date.Before(p.Cutoff()) {
		logger.WithField("date", msg.Date).Debug("Dropping mail outside of retention window")
		return TooOld, false, nil
	}

	key := domain.RecordKey(account, folder, raw.Uid)
	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return Failed, false, fmt.Errorf("could not check for existing record %s: %w", key, err)
	}
	if exists {
		logger.Debug("Mail is already indexed")
		return AlreadyIndexed, false, nil
	}

	category := p.classify(logger, msg, raw.RawMail)

	record := &domain.EmailRecord{
		Key:        key,
		Account:    account,
		Folder:     folder,
		Mailbox:    folder,
		Uid:        raw.Uid,
		Subject:    msg.Subject,
		From:       msg.From,
		Recipients: msg.Recipients,
		Date:       msg.Date,
		Body:       msg.Body,
		Category:   category,
		IndexedAt:  p.now(),
	}
	created, err := p.store.CreateIfAbsent(ctx, record)
	if err != nil {
		return Failed, false, fmt.Errorf("could not save record %s: %w", key, err)
	}
	if !created {
		logger.Debug("Mail was indexed concurrently")
		return AlreadyIndexed, false, nil
	}
	logger.WithField("category", category).Debug("Indexed mail")

	if category != domain.Interested || p.notifier == nil {
		return Persisted, false, nil
	}

	p.notifier.Dispatch(ctx, &domain.Event{
		Account:  account,
		Folder:   folder,
		Subject:  msg.Subject,
		From:     msg.From,
		Date:     msg.Date,
		Category: category,
	})
	return Persisted, true, nil
}

func (p *Pipeline) classify(logger *logrus.Entry, msg *domain.InboundMessage, rawMail []byte) domain.Category {
	if p.spamChecker != nil {
		result := p.spamChecker.Check(rawMail)
		switch {
		case result == nil:
			logger.Warn("Spam check returned no result, using text rules")
		case result.Error != nil:
			logger.WithField("error", result.Error).Warn("Spam check failed, using text rules")
		case result.IsSpam:
			logger.WithField("score", result.Score).Debug("Spam check flagged mail")
			return domain.Spam
		}
	}

	return p.classifier.Classify(msg.Subject, msg.Body)
}

// IngestBatch ingests all mails with bounded concurrency. Failures are logged per mail and never
// stop the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, account, folder string, mails []*domain.RawMail) Stats {
	var (
		mu    sync.Mutex
		stats Stats
		wg    sync.WaitGroup
	)
	semaphore := make(chan struct{}, p.concurrency)

	for _, m := range mails {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(m *domain.RawMail) {
			defer func() {
				<-semaphore
				wg.Done()
			}()

			outcome, notified, err := p.ingest(ctx, account, folder, m)
			if err != nil {
				p.l.WithFields(logrus.Fields{"account": account, "folder": folder, "uid": m.Uid, "error": err}).Error("Could not ingest mail")
			}

			mu.Lock()
			stats.add(outcome, notified)
			mu.Unlock()
		}(m)
	}
	wg.Wait()

	return stats
}
