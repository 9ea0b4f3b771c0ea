// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordKey(t *testing.T) {
	tests := []struct {
		name     string
		account  string
		folder   string
		uid      uint32
		expected string
	}{
		{"plain", "sales", "inbox", 101, "sales|inbox|101"},
		{"normalized", " Sales ", "INBOX", 101, "sales|inbox|101"},
		{"nested", "Sales", "INBOX/Sent", 7, "sales|inbox/sent|7"},
		{"zero", "", "", 0, "||0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RecordKey(tc.account, tc.folder, tc.uid))
		})
	}
}
