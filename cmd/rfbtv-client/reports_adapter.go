package main

import (
	"time"

	"github.com/activevideo/rfbtv-client/internal/rfbtv/kernel"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/reports"
)

// reportTransmitter adapts *reports.Manager to kernel.ReportTransmitter.
// The two packages each define their own PlaybackState (deliberately, so
// neither imports the other), so NotifyStateChange needs a translating
// shim rather than a direct method-set match.
type reportTransmitter struct {
	manager *reports.Manager
}

func (t reportTransmitter) EnableTriggered()              { t.manager.EnableTriggered() }
func (t reportTransmitter) EnablePeriodic(d time.Duration) { t.manager.EnablePeriodic(d) }
func (t reportTransmitter) Disable()                      { t.manager.Disable() }
func (t reportTransmitter) GenerateNow()                  { t.manager.GenerateNow() }
func (t reportTransmitter) ReportUpdated()                { t.manager.ReportUpdated() }

func (t reportTransmitter) NotifyStateChange(state kernel.PlaybackState) {
	t.manager.NotifyStateChange(translatePlaybackState(state))
}

func translatePlaybackState(state kernel.PlaybackState) reports.PlaybackState {
	switch state {
	case kernel.PlaybackStarting:
		return reports.PlaybackStarting
	case kernel.PlaybackPlaying:
		return reports.PlaybackPlaying
	case kernel.PlaybackStopped:
		return reports.PlaybackStopped
	case kernel.PlaybackStalled:
		return reports.PlaybackStalled
	default:
		return reports.PlaybackUnknown
	}
}
