// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	log.InitLogging("error")
	p, err := NewPersistence("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func record(account, folder string, uid uint32, subject string, date time.Time) *domain.EmailRecord {
	return &domain.EmailRecord{
		Account:    account,
		Folder:     folder,
		Uid:        uid,
		Subject:    subject,
		From:       "Jane Doe <jane@example.com>",
		Recipients: []string{"sales@example.com", "Doe, John <john@example.com>"},
		Date:       date,
		Body:       "body of " + subject,
		Category:   domain.Uncategorized,
	}
}

func TestPersistence_CreateIfAbsent(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	now := time.Now()

	created, err := p.CreateIfAbsent(ctx, record("Sales", "INBOX", 101, "Re: Pricing", now))
	assert.NoError(t, err)
	assert.True(t, created)

	exists, err := p.Exists(ctx, "sales|inbox|101")
	assert.NoError(t, err)
	assert.True(t, exists)

	created, err = p.CreateIfAbsent(ctx, record(" sales ", "inbox", 101, "Re: Pricing", now))
	assert.NoError(t, err)
	assert.False(t, created)

	exists, err = p.Exists(ctx, "sales|inbox|102")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestPersistence_LastUid(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	uid, err := p.LastUid(ctx, "Sales", "INBOX")
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), uid)

	for _, u := range []uint32{5, 9, 7} {
		_, err := p.CreateIfAbsent(ctx, record("Sales", "INBOX", u, "mail", time.Now()))
		require.NoError(t, err)
	}
	_, err = p.CreateIfAbsent(ctx, record("Sales", "Archive", 40, "mail", time.Now()))
	require.NoError(t, err)

	uid, err = p.LastUid(ctx, "SALES", "inbox")
	assert.NoError(t, err)
	assert.Equal(t, uint32(9), uid)

	uid, err = p.LastUid(ctx, "Support", "INBOX")
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), uid)
}

func TestPersistence_Folders(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	_, found, err := p.FolderValidity(ctx, "Sales", "INBOX")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, p.SaveFolder(ctx, "Sales", "INBOX", 123))
	assert.NoError(t, p.SaveFolder(ctx, "Sales", "INBOX", 124))

	validity, found, err := p.FolderValidity(ctx, "sales", "inbox")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(124), validity)
}

func TestPersistence_Search(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mails := []*domain.EmailRecord{
		record("Sales", "INBOX", 1, "Pricing question", base),
		record("Sales", "INBOX", 2, "Meeting tomorrow", base.Add(time.Hour)),
		record("Support", "INBOX", 1, "Pricing 100% off", base.Add(2*time.Hour)),
	}
	for _, m := range mails {
		_, err := p.CreateIfAbsent(ctx, m)
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		query    domain.SearchQuery
		expected []string
	}{
		{"all", domain.SearchQuery{}, []string{"support|inbox|1", "sales|inbox|2", "sales|inbox|1"}},
		{"text", domain.SearchQuery{Text: "pricing"}, []string{"support|inbox|1", "sales|inbox|1"}},
		{"account", domain.SearchQuery{Text: "pricing", Account: " Sales"}, []string{"sales|inbox|1"}},
		{"escaped", domain.SearchQuery{Text: "100%"}, []string{"support|inbox|1"}},
		{"recipients", domain.SearchQuery{Text: "john@example.com", Account: "support"}, []string{"support|inbox|1"}},
		{"limit", domain.SearchQuery{Limit: 1}, []string{"support|inbox|1"}},
		{"nomatch", domain.SearchQuery{Text: "invoice"}, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := p.Search(ctx, tc.query)
			require.NoError(t, err)
			keys := []string{}
			for _, r := range records {
				keys = append(keys, r.Key)
			}
			assert.Equal(t, tc.expected, keys)
		})
	}

	records, err := p.Search(ctx, domain.SearchQuery{Text: "meeting"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sales", records[0].Account)
	assert.Equal(t, "INBOX", records[0].Mailbox)
	assert.Equal(t, base.Add(time.Hour), records[0].Date)
	assert.Equal(t, []string{"sales@example.com", "Doe, John <john@example.com>"}, records[0].Recipients)
	assert.Equal(t, domain.Uncategorized, records[0].Category)
}

func TestPersistence_Accounts(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	accounts, err := p.Accounts(ctx)
	assert.NoError(t, err)
	assert.Empty(t, accounts)

	for _, a := range []string{"Support", "Sales", "sales"} {
		_, err := p.CreateIfAbsent(ctx, record(a, "INBOX", 1, "mail", time.Now()))
		require.NoError(t, err)
	}

	accounts, err = p.Accounts(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"sales", "support"}, accounts)
}

func TestPersistence_RemoveDuplicates(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	_, err := p.CreateIfAbsent(ctx, record("Sales", "INBOX", 1, "mail", time.Now()))
	require.NoError(t, err)
	_, err = p.db.Exec(
		`INSERT INTO emails (id, account, folder, mailbox, uid, date, category, indexed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"Sales |INBOX|1", "Sales ", "INBOX", "INBOX", 1, 0, "Uncategorized", 0,
	)
	require.NoError(t, err)
	_, err = p.db.Exec(
		`INSERT INTO emails (id, account, folder, mailbox, uid, date, category, indexed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"Ops|Archive|3", "Ops", "Archive", "Archive", 3, 0, "Uncategorized", 0,
	)
	require.NoError(t, err)

	removed, err := p.RemoveDuplicates(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	exists, err := p.Exists(ctx, "ops|archive|3")
	assert.NoError(t, err)
	assert.True(t, exists)

	accounts, err := p.Accounts(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ops", "sales"}, accounts)
}

func TestPersistence_MigrateIdempotent(t *testing.T) {
	p := newTestPersistence(t)
	assert.NoError(t, p.Migrate())
	assert.NoError(t, p.Ping(context.Background()))
}
