// SPDX-License-Identifier: GPL-3.0-or-later
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/CrawX/go-imap-indexer/config"

	"github.com/99designs/keyring"
)

const ServiceName = "go-imap-indexer"

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/go-imap-indexer/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("go-imap-indexer-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Resolver looks up account passwords. The keyring is only opened when an account asks for it.
type Resolver struct {
	getenv      func(string) string
	openKeyring func() (keyring.Keyring, error)
}

func NewResolver() *Resolver {
	return &Resolver{
		getenv:      os.Getenv,
		openKeyring: openKeyring,
	}
}

// Resolve returns the inline password, then the PasswordEnv variable, then the keyring item.
func (r *Resolver) Resolve(account config.Account) (string, error) {
	if len(account.Password) > 0 {
		return account.Password, nil
	}

	if len(account.PasswordEnv) > 0 {
		if password := r.getenv(account.PasswordEnv); len(password) > 0 {
			return password, nil
		}
		if len(account.PasswordKeyring) == 0 {
			return "", fmt.Errorf("environment variable %s for account %s is empty", account.PasswordEnv, account.Name)
		}
	}

	if len(account.PasswordKeyring) > 0 {
		ring, err := r.openKeyring()
		if err != nil {
			return "", err
		}

		item, err := ring.Get(account.PasswordKeyring)
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("no keyring item %q for account %s", account.PasswordKeyring, account.Name)
		}
		if err != nil {
			return "", fmt.Errorf("getting credential %q: %w", account.PasswordKeyring, err)
		}

		return string(item.Data), nil
	}

	return "", fmt.Errorf("no password configured for account %s", account.Name)
}

// Store saves a password in the keyring under key.
func (r *Resolver) Store(key, password string) error {
	ring, err := r.openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Label: ServiceName + " " + key,
		Data:  []byte(password),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}
