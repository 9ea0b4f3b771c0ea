// SPDX-License-Identifier: GPL-3.0-or-later

//go:generate mockgen -destination=mocks/spamclassifier.go -package=mocks . Classifier,SpamChecker
package domain

type Classifier interface {
	Classify(subject, body string) Category
}

type SpamResult struct {
	IsSpam bool
	Score  float64
	Error  error
}

type SpamChecker interface {
	Check(rawMail []byte) *SpamResult
}
