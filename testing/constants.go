// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"time"
)

const (
	// ShortWait is how long tests block waiting for something that should
	// not happen, such as a reply from an agent that is meant to stay
	// silent. Tests really do wait this long.
	ShortWait = 50 * time.Millisecond

	// LongWait bounds the wait for something that should already have
	// happened. Passing tests never wait this long.
	LongWait = 10 * time.Second
)
