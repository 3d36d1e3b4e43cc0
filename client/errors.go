// client/errors.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package client

import (
	"errors"
)

var (
	ErrClientClosed     = errors.New("Client has been closed")
	ErrInvalidConfig    = errors.New("Invalid client configuration")
	ErrNotConnected     = errors.New("Not connected to simulation server")
	ErrConnectionClosed = errors.New("Connection closed abnormally")
)
