// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

//go:generate mockgen -destination=mocks/persistence.go -package=mocks . Persistence

type Persistence interface {
	Close() error
	Ping(ctx context.Context) error

	Exists(ctx context.Context, key string) (bool, error)
	// CreateIfAbsent reports false without an error when the key is already taken.
	CreateIfAbsent(ctx context.Context, record *EmailRecord) (bool, error)
	LastUid(ctx context.Context, account, folder string) (uint32, error)

	FolderValidity(ctx context.Context, account, folder string) (uint32, bool, error)
	SaveFolder(ctx context.Context, account, folder string, uidValidity uint32) error

	Search(ctx context.Context, query SearchQuery) ([]*EmailRecord, error)
	Accounts(ctx context.Context) ([]string, error)
	RemoveDuplicates(ctx context.Context) (int64, error)
}
