// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

//go:build unix

package restarter

import "golang.org/x/sys/unix"

func syncFileSystems() {
	unix.Sync()
}
