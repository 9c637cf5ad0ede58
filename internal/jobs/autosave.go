package jobs

import (
	"context"
	"flowdeck/internal/services"
	"log"
	"time"
)

// AutosaveJobName is the scheduler name of the autosave job
const AutosaveJobName = "session-autosave"

// AutosaveJob periodically writes sessions that changed since their last save.
// It is a soft checkpoint: nothing is fsynced.
type AutosaveJob struct {
	sessions *services.SessionService
}

// NewAutosaveJob creates a new autosave job
func NewAutosaveJob(sessions *services.SessionService) *AutosaveJob {
	return &AutosaveJob{sessions: sessions}
}

// Run saves every dirty live session
func (j *AutosaveJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	startTime := time.Now()
	saved, err := j.sessions.SaveAll(true)
	if saved > 0 {
		log.Printf("💾 [AUTOSAVE] Saved %d session(s) in %v", saved, time.Since(startTime))
	}
	return err
}
