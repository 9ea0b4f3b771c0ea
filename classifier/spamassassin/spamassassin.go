// SPDX-License-Identifier: GPL-3.0-or-later
package spamassassin

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"

	"github.com/sirupsen/logrus"
	"github.com/teamwork/spamc"
)

const SpamAssassinTimeout = 20 * time.Second

// SpamAssassin checks messages against a spamd instance. Messages are only scored, never learned.
type SpamAssassin struct {
	client *spamc.Client
	l      *logrus.Entry
}

func NewSpamassassin(host string) (*SpamAssassin, error) {
	sa := newSpamAssassin(host, SpamAssassinTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), SpamAssassinTimeout)
	defer cancel()
	err := sa.client.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not ping SpamAssassin at %s: %w", host, err)
	}

	return sa, nil
}

func newSpamAssassin(host string, timeout time.Duration) *SpamAssassin {
	return &SpamAssassin{
		client: spamc.New(host, &net.Dialer{Timeout: timeout}),
		l:      log.Logger(log.LOG_CLASSIFIER).WithField("checker", "spamassassin"),
	}
}

func (sa *SpamAssassin) Check(rawMail []byte) *domain.SpamResult {
	ctx, cancel := context.WithTimeout(context.Background(), SpamAssassinTimeout)
	defer cancel()

	out, err := sa.client.Process(ctx, bytes.NewReader(rawMail), nil)
	if err != nil {
		return errResult(fmt.Errorf("could not check SpamAssassin: %w", err))
	}

	err = out.Message.Close()
	if err != nil {
		return errResult(fmt.Errorf("could not close response: %w", err))
	}

	sa.l.WithFields(logrus.Fields{"spam": out.IsSpam, "score": out.Score}).Trace("Checked message")
	return &domain.SpamResult{
		IsSpam: out.IsSpam,
		Score:  out.Score,
	}
}

func errResult(err error) *domain.SpamResult {
	return &domain.SpamResult{Error: err}
}
