// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"context"

	"github.com/CrawX/go-imap-indexer/log"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Supervisor runs one Manager per account. Accounts share nothing but the store.
type Supervisor struct {
	managers []*Manager

	l *logrus.Logger
}

func NewSupervisor(managers ...*Manager) *Supervisor {
	return &Supervisor{
		managers: managers,
		l:        log.Logger(log.LOG_SYNC),
	}
}

// Run blocks until ctx is cancelled and every manager has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	s.l.WithField("accounts", len(s.managers)).Info("Starting account sync")

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range s.managers {
		m := m
		g.Go(func() error {
			return m.Run(ctx)
		})
	}

	err := g.Wait()
	s.l.Info("All accounts stopped")
	return err
}

func (s *Supervisor) States() map[string]State {
	states := make(map[string]State, len(s.managers))
	for _, m := range s.managers {
		states[m.Account()] = m.State()
	}

	return states
}
