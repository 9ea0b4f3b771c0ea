// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/notifier.go -package=mocks . Notifier,Sink

type Event struct {
	Account  string
	Folder   string
	Subject  string
	From     string
	Date     time.Time
	Category Category
}

type Notifier interface {
	Dispatch(ctx context.Context, event *Event)
}

type Sink interface {
	Name() string
	Send(ctx context.Context, event *Event) error
}
