// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

// ErrAlreadyRunning is returned when Run is called on a manager that is
// already running. A manager runs exactly once.
var ErrAlreadyRunning = errors.New("daemon already running")
