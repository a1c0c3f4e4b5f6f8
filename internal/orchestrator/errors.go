package orchestrator

import "errors"

var errAlreadyRunning = errors.New("orchestrator: already running")
