package mirror

// Phase names a stage of a synchronization run that reports progress.
type Phase string

// Phases reported to a Progress.
const (
	PhaseFetch  Phase = "fetch"
	PhaseDelete Phase = "delete"
)

// Progress receives per-item completion events.
//
// For each phase, PhaseStarted is called once with the fixed total, then
// ItemDone once per item with completed counting up from 1 to total, then
// PhaseFinished. Calls for one mirror are never concurrent.
type Progress interface {
	PhaseStarted(mirrorID string, phase Phase, total int)
	ItemDone(mirrorID string, phase Phase, item string, completed, total int, err error)
	PhaseFinished(mirrorID string, phase Phase, completed, failed int)
}

// NopProgress discards all events.
type NopProgress struct{}

// PhaseStarted implements Progress.
func (NopProgress) PhaseStarted(string, Phase, int) {}

// ItemDone implements Progress.
func (NopProgress) ItemDone(string, Phase, string, int, int, error) {}

// PhaseFinished implements Progress.
func (NopProgress) PhaseFinished(string, Phase, int, int) {}
