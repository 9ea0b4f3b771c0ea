// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"fmt"
	"time"

	"github.com/CrawX/go-imap-indexer/folders"
)

type ConfigFunc func(c *configuration) error

func FolderDelay(delay time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if delay < 0 {
			return fmt.Errorf("FolderDelay cannot be negative")
		}

		c.FolderDelay = delay
		return nil
	}
}

func KeepaliveInterval(interval time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if interval <= 0 {
			return fmt.Errorf("KeepaliveInterval must be positive")
		}

		c.KeepaliveInterval = interval
		return nil
	}
}

func ReconnectBackoff(backoff time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if backoff <= 0 {
			return fmt.Errorf("ReconnectBackoff must be positive")
		}

		c.ReconnectBackoff = backoff
		return nil
	}
}

func PrimaryFolder(folder string) ConfigFunc {
	return func(c *configuration) error {
		if len(folder) == 0 {
			return fmt.Errorf("PrimaryFolder cannot be null")
		}

		c.PrimaryFolder = folder
		return nil
	}
}

func FolderMode(mode folders.Mode) ConfigFunc {
	return func(c *configuration) error {
		c.FolderMode = mode
		return nil
	}
}

type configuration struct {
	FolderDelay       time.Duration
	KeepaliveInterval time.Duration
	ReconnectBackoff  time.Duration

	PrimaryFolder string
	FolderMode    folders.Mode
}

func defaultConfiguration() *configuration {
	return &configuration{
		FolderDelay:       time.Second,
		KeepaliveInterval: 15 * time.Minute,
		ReconnectBackoff:  30 * time.Second,
		PrimaryFolder:     "INBOX",
		FolderMode:        folders.All,
	}
}
