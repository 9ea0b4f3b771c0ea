// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/log"
	"github.com/CrawX/go-imap-indexer/persistence/migrations"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000

	recipientSeparator = "\n"
)

type Persistence struct {
	db *sqlx.DB
	l  *logrus.Logger
}

// NewPersistence opens the database with driver "sqlite3" (cgo) or "sqlite" (pure Go) and migrates
// it to the newest schema.
func NewPersistence(driver, datasource string) (*Persistence, error) {
	db, err := sqlx.Connect(driver, datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithFields(logrus.Fields{"file": datasource, "driver": driver}).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	p := &Persistence{
		db: db,
		l:  l,
	}

	err = p.Migrate()
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Migrate applies all pending migrations. Running it on an up to date database is a no-op.
func (p *Persistence) Migrate() error {
	appliedMigrations, err := migrate.Exec(p.db.DB, "sqlite3", migrations.Source(), migrate.Up)
	if err != nil {
		return fmt.Errorf("could not migrate to newest version: %w", err)
	}

	p.l.WithField("migrations", appliedMigrations).Debug("Executed migrations")
	return nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

func (p *Persistence) Ping(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("could not ping db: %w", err)
	}
	return nil
}

type dbRecord struct {
	Id         string `db:"id"`
	Account    string `db:"account"`
	Folder     string `db:"folder"`
	Mailbox    string `db:"mailbox"`
	Uid        uint32 `db:"uid"`
	Subject    string `db:"subject"`
	Sender     string `db:"sender"`
	Recipients string `db:"recipients"`
	Date       int64  `db:"date"`
	Body       string `db:"body"`
	Category   string `db:"category"`
	IndexedAt  int64  `db:"indexed_at"`
}

const recordColumns = `id, account, folder, mailbox, uid, subject, sender, recipients, date, body, category, indexed_at`

func toDbRecord(r *domain.EmailRecord) *dbRecord {
	indexedAt := r.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	mailbox := r.Mailbox
	if len(mailbox) == 0 {
		mailbox = r.Folder
	}

	return &dbRecord{
		Id:         domain.RecordKey(r.Account, r.Folder, r.Uid),
		Account:    domain.NormalizeName(r.Account),
		Folder:     domain.NormalizeName(r.Folder),
		Mailbox:    mailbox,
		Uid:        r.Uid,
		Subject:    r.Subject,
		Sender:     r.From,
		Recipients: strings.Join(r.Recipients, recipientSeparator),
		Date:       r.Date.Unix(),
		Body:       r.Body,
		Category:   string(r.Category),
		IndexedAt:  indexedAt.Unix(),
	}
}

func (r *dbRecord) toDomain() *domain.EmailRecord {
	recipients := []string{}
	if len(r.Recipients) > 0 {
		recipients = strings.Split(r.Recipients, recipientSeparator)
	}

	return &domain.EmailRecord{
		Key:        r.Id,
		Account:    r.Account,
		Folder:     r.Folder,
		Mailbox:    r.Mailbox,
		Uid:        r.Uid,
		Subject:    r.Subject,
		From:       r.Sender,
		Recipients: recipients,
		Date:       time.Unix(r.Date, 0).UTC(),
		Body:       r.Body,
		Category:   domain.Category(r.Category),
		IndexedAt:  time.Unix(r.IndexedAt, 0).UTC(),
	}
}

func (p *Persistence) Exists(ctx context.Context, key string) (bool, error) {
	var id string
	err := p.db.GetContext(ctx, &id, `SELECT id FROM emails WHERE id = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not query db: %w", err)
	}

	return true, nil
}

func (p *Persistence) CreateIfAbsent(ctx context.Context, record *domain.EmailRecord) (bool, error) {
	result, err := p.db.NamedExecContext(
		ctx,
		`INSERT INTO emails (`+recordColumns+`)
		VALUES (:id, :account, :folder, :mailbox, :uid, :subject, :sender, :recipients, :date, :body, :category, :indexed_at)
		ON CONFLICT DO NOTHING`,
		toDbRecord(record),
	)
	if err != nil {
		return false, fmt.Errorf("could not save mail: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("could not get num of affected rows: %w", err)
	}

	return affected == 1, nil
}

func (p *Persistence) LastUid(ctx context.Context, account, folder string) (uint32, error) {
	var uid uint32
	err := p.db.GetContext(
		ctx,
		&uid,
		`SELECT COALESCE(MAX(uid), 0) FROM emails WHERE account = ? AND folder = ?`,
		domain.NormalizeName(account),
		domain.NormalizeName(folder),
	)
	if err != nil {
		return 0, fmt.Errorf("could not query db: %w", err)
	}

	return uid, nil
}

func (p *Persistence) FolderValidity(ctx context.Context, account, folder string) (uint32, bool, error) {
	var uidValidity uint32
	err := p.db.GetContext(
		ctx,
		&uidValidity,
		`SELECT uidvalidity FROM folders WHERE account = ? AND folder = ?`,
		domain.NormalizeName(account),
		domain.NormalizeName(folder),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("could not query db: %w", err)
	}

	return uidValidity, true, nil
}

func (p *Persistence) SaveFolder(ctx context.Context, account, folder string, uidValidity uint32) error {
	_, err := p.db.ExecContext(
		ctx,
		"INSERT OR REPLACE INTO folders (account, folder, uidvalidity) VALUES (?, ?, ?)",
		domain.NormalizeName(account),
		domain.NormalizeName(folder),
		uidValidity,
	)
	if err != nil {
		return fmt.Errorf("could not save folder: %w", err)
	}

	p.l.WithFields(logrus.Fields{"account": account, "folder": folder, "uidvalidity": uidValidity}).Debug("Persisted folder")
	return nil
}

// Search matches text against subject, body, sender and recipients and returns the newest records
// first.
func (p *Persistence) Search(ctx context.Context, query domain.SearchQuery) ([]*domain.EmailRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	conditions := []string{}
	params := map[string]interface{}{
		"limit": limit,
	}

	if account := domain.NormalizeName(query.Account); len(account) > 0 {
		conditions = append(conditions, "account = :account")
		params["account"] = account
	}

	if text := strings.TrimSpace(query.Text); len(text) > 0 {
		conditions = append(conditions,
			`(subject LIKE :pattern ESCAPE '\' OR body LIKE :pattern ESCAPE '\' OR sender LIKE :pattern ESCAPE '\' OR recipients LIKE :pattern ESCAPE '\')`,
		)
		params["pattern"] = "%" + escapeLike(text) + "%"
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	qry, args, err := sqlx.Named(
		`SELECT `+recordColumns+` FROM emails `+where+` ORDER BY date DESC, uid DESC LIMIT :limit`,
		params,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create query: %w", err)
	}

	dbRecords := []*dbRecord{}
	err = p.db.SelectContext(ctx, &dbRecords, p.db.Rebind(qry), args...)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	records := make([]*domain.EmailRecord, 0, len(dbRecords))
	for _, r := range dbRecords {
		records = append(records, r.toDomain())
	}

	return records, nil
}

func (p *Persistence) Accounts(ctx context.Context) ([]string, error) {
	accounts := []string{}
	err := p.db.SelectContext(ctx, &accounts, `SELECT DISTINCT account FROM emails ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	return accounts, nil
}

// RemoveDuplicates deletes records whose normalized (account, folder, uid) triple collides with an
// older record and rewrites the survivors into normalized form.
func (p *Persistence) RemoveDuplicates(ctx context.Context) (int64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not start transaction: %w", err)
	}

	result, err := tx.ExecContext(
		ctx,
		`DELETE FROM emails WHERE rowid NOT IN (
			SELECT MIN(rowid) FROM emails GROUP BY lower(trim(account)), lower(trim(folder)), uid
		)`,
	)
	if err != nil {
		return 0, txEnd(tx, fmt.Errorf("could not delete duplicates: %w", err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, txEnd(tx, fmt.Errorf("could not get num of affected rows: %w", err))
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE emails
		SET account = lower(trim(account)),
			folder = lower(trim(folder)),
			id = lower(trim(account)) || '|' || lower(trim(folder)) || '|' || uid
		WHERE account != lower(trim(account)) OR folder != lower(trim(folder)) OR id != lower(trim(account)) || '|' || lower(trim(folder)) || '|' || uid`,
	)
	if err != nil {
		return 0, txEnd(tx, fmt.Errorf("could not normalize records: %w", err))
	}

	err = txEnd(tx, nil)
	if err != nil {
		return 0, err
	}

	p.l.WithField("removed", removed).Info("Removed duplicate records")
	return removed, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
	} else {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			errStr := err.Error()
			return fmt.Errorf("%s, could not rollback tx: %w", errStr, rollbackErr)
		} else {
			return err
		}
	}

	return nil
}
