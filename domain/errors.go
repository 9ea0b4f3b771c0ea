// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "errors"

var (
	ErrConnection        = errors.New("connection error")
	ErrFolderUnavailable = errors.New("folder unavailable")
	ErrProtocol          = errors.New("protocol error")
	ErrMalformed         = errors.New("malformed message")
	ErrRateLimited       = errors.New("rate limited")
)
