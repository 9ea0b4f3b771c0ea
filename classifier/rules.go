// SPDX-License-Identifier: GPL-3.0-or-later
package classifier

import (
	"regexp"
	"strings"

	"github.com/CrawX/go-imap-indexer/domain"
)

type rule struct {
	category domain.Category
	pattern  *regexp.Regexp
}

// Evaluated in order, the first match wins.
var defaultRules = []rule{
	{domain.OutOfOffice, regexp.MustCompile(`out of office|out-of-office|on vacation|ooo|out for the day`)},
	{domain.MeetingBooked, regexp.MustCompile(`meeting|calendar|booked|scheduled|schedule|call|interview|slot|time available`)},
	{domain.NotInterested, regexp.MustCompile(`not interested|no thanks|no thank you|no longer interested|unsubscribe`)},
	{domain.Spam, regexp.MustCompile(`free money|claim prize|click here|buy now|hot deal|lottery|winner|unsubscribe here`)},
	{domain.Interested, regexp.MustCompile(`interested|keen|would love|i am interested|sounds good|count me in|open to`)},
}

// Rules is a keyword classifier over the lower-cased subject and body.
type Rules struct {
	rules []rule
}

func NewRules() *Rules {
	return &Rules{rules: defaultRules}
}

func (r *Rules) Classify(subject, body string) domain.Category {
	text := strings.ToLower(subject + " " + body)
	for _, rule := range r.rules {
		if rule.pattern.MatchString(text) {
			return rule.category
		}
	}

	return domain.Uncategorized
}
