// SPDX-License-Identifier: GPL-3.0-or-later
package classifier

import (
	"strings"
	"testing"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/stretchr/testify/assert"
)

func TestRules_Classify(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		body     string
		expected domain.Category
	}{
		{"interested", "Re: Pricing", "I am interested in the offer.", domain.Interested},
		{"outofoffice", "Out of office", "I am away until Monday, reach me if you are interested.", domain.OutOfOffice},
		{"meeting", "Invitation", "The meeting is booked for Tuesday", domain.MeetingBooked},
		{"notinterested", "Re: Offer", "We are not interested, thanks", domain.NotInterested},
		{"spam", "WINNER", "Claim prize now", domain.Spam},
		{"uppercase", "SOUNDS GOOD", "", domain.Interested},
		{"uncategorized", "Invoice", "Please find the invoice attached", domain.Uncategorized},
		{"empty", "", "", domain.Uncategorized},
	}
	rules := NewRules()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, rules.Classify(tc.subject, tc.body))
		})
	}
}

func TestRules_ClassifyTotal(t *testing.T) {
	rules := NewRules()
	inputs := []string{"", " ", "\x00\xff", strings.Repeat("x", 100000), "Ünïcödé ☃", "interested\nmeeting"}
	for _, subject := range inputs {
		for _, body := range inputs {
			assert.Contains(t, domain.Categories, rules.Classify(subject, body))
		}
	}
}
