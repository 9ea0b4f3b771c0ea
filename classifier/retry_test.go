// SPDX-License-Identifier: GPL-3.0-or-later
package classifier

import (
	"errors"
	"testing"

	"github.com/CrawX/go-imap-indexer/domain"
	"github.com/CrawX/go-imap-indexer/domain/mocks"
	"github.com/CrawX/go-imap-indexer/log"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
)

func TestRetryingSpamChecker(t *testing.T) {
	log.InitLogging("error")
	errResult := &domain.SpamResult{Error: errors.New("error")}
	okResult := &domain.SpamResult{IsSpam: true, Score: 12}

	tests := []struct {
		name     string
		results  []*domain.SpamResult
		expected *domain.SpamResult
	}{
		{"ok", []*domain.SpamResult{okResult}, okResult},
		{"retryok", []*domain.SpamResult{errResult, okResult}, okResult},
		{"retryerror", []*domain.SpamResult{errResult, errResult}, errResult},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			checker := mocks.NewMockSpamChecker(ctrl)
			calls := []*gomock.Call{}
			for _, r := range tc.results {
				calls = append(calls, checker.EXPECT().Check(gomock.Eq([]byte{1})).Return(r))
			}
			gomock.InOrder(calls...)

			retrying := &RetryingSpamChecker{checker}
			assert.Equal(t, tc.expected, retrying.Check([]byte{1}))
		})
	}
}
