// SPDX-License-Identifier: GPL-3.0-or-later
package classifier

import (
	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"
)

// RetryingSpamChecker checks a mail a second time if the first check failed.
type RetryingSpamChecker struct {
	domain.SpamChecker
}

func (r *RetryingSpamChecker) Check(rawMail []byte) *domain.SpamResult {
	result := r.SpamChecker.Check(rawMail)
	if result == nil || result.Error != nil {
		l := log.Logger(log.LOG_CLASSIFIER)
		if result != nil {
			l.WithField("error", result.Error).Debug("Spam check failed, retrying")
		} else {
			l.Debug("Spam check returned no result, retrying")
		}
		result = r.SpamChecker.Check(rawMail)
	}

	return result
}
