package main

import (
	"log/slog"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/kernel"
)

// logObserver logs every session state transition. A richer embedder
// would instead forward ObservableState to its own UI/playback layer.
type logObserver struct {
	log *slog.Logger
}

func (o logObserver) OnStateChanged(s kernel.ObservableState) {
	o.log.Info("session state changed", "state", s.State.String(), "error_code", s.ErrorCode)
}
