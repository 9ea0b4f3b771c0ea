// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	Interested    = Category("Interested")
	NotInterested = Category("Not Interested")
	MeetingBooked = Category("Meeting Booked")
	OutOfOffice   = Category("Out of Office")
	Spam          = Category("Spam")
	Uncategorized = Category("Uncategorized")
)

var Categories = []Category{Interested, NotInterested, MeetingBooked, OutOfOffice, Spam, Uncategorized}

// InboundMessage is a parsed message before it is accepted into the store.
type InboundMessage struct {
	Uid        uint32
	Account    string
	Folder     string
	Subject    string
	From       string
	Recipients []string
	Date       time.Time
	Body       string
}

type EmailRecord struct {
	Key        string
	Account    string
	Folder     string
	Mailbox    string
	Uid        uint32
	Subject    string
	From       string
	Recipients []string
	Date       time.Time
	Body       string
	Category   Category
	IndexedAt  time.Time
}

type SearchQuery struct {
	Text    string
	Account string
	Limit   int
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RecordKey builds the identity of a stored record. Two records with the same key are the same
// message, regardless of how account or folder were spelled when they were fetched.
func RecordKey(account, folder string, uid uint32) string {
	return fmt.Sprintf("%s|%s|%d", NormalizeName(account), NormalizeName(folder), uid)
}
