// SPDX-License-Identifier: GPL-3.0-or-later
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"
	"github.com/CrawX/go-imap-indexer/mail"

	"github.com/sirupsen/logrus"
)

// limiter enforces a minimum interval between successful sends. The mutex is held while waiting so
// concurrent callers queue up behind each other.
type limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (l *limiter) wait(ctx context.Context) error {
	if l.last.IsZero() {
		return nil
	}

	remaining := l.interval - l.now().Sub(l.last)
	if remaining <= 0 {
		return nil
	}

	return l.sleep(ctx, remaining)
}

type limitedSink struct {
	sink    domain.Sink
	limiter *limiter
}

// Dispatcher fans events out to all sinks. Failures are logged and never returned, the next event
// is the retry.
type Dispatcher struct {
	sinks []*limitedSink
	l     *logrus.Logger
}

func NewDispatcher(interval time.Duration, sinks ...domain.Sink) *Dispatcher {
	limited := make([]*limitedSink, 0, len(sinks))
	for _, s := range sinks {
		limited = append(limited, &limitedSink{
			sink: s,
			limiter: &limiter{
				interval: interval,
				now:      time.Now,
				sleep:    sleepContext,
			},
		})
	}

	return &Dispatcher{
		sinks: limited,
		l:     log.Logger(log.LOG_NOTIFY),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.Event) {
	for _, s := range d.sinks {
		d.send(ctx, s, event)
	}
}

func (d *Dispatcher) send(ctx context.Context, s *limitedSink, event *domain.Event) {
	logger := d.l.WithFields(logrus.Fields{
		"sink":    s.sink.Name(),
		"account": event.Account,
		"subject": mail.ShortSubject(event.Subject),
	})

	s.limiter.mu.Lock()
	defer s.limiter.mu.Unlock()

	err := s.limiter.wait(ctx)
	if err != nil {
		logger.WithField("error", err).Debug("Notification cancelled while waiting for rate limit")
		return
	}

	err = s.sink.Send(ctx, event)
	if errors.Is(err, domain.ErrRateLimited) {
		logger.WithFields(logrus.Fields{"error": err, "ratelimited": true}).Warn("Notification rejected by rate limit")
		return
	}
	if err != nil {
		logger.WithField("error", err).Error("Could not send notification")
		return
	}

	s.limiter.last = s.limiter.now()
	logger.Info("Sent notification")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
