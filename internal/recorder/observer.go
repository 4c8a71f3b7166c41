package recorder

import (
	"log"

	"timebooker/internal/engine"
)

// Tracer feeds batch events into a Recorder. RunStarted opens a new trace file and
// RunFinished closes it.
type Tracer struct {
	Recorder *Recorder
}

type attemptFailure struct {
	Attempt int          `json:"attempt"`
	Stage   engine.Stage `json:"stage,omitempty"`
	Error   string       `json:"error"`
}

func (t Tracer) RunStarted(runID string, items []engine.WorkItem) {
	if err := t.Recorder.Start(runID); err != nil {
		log.Printf("trace: start run %s: %v", runID, err)
		return
	}
	t.Recorder.Log("run_started", "", map[string]interface{}{"run_id": runID, "items": items})
}

func (t Tracer) ItemStarted(item engine.WorkItem, attempt int) {
	t.Recorder.Log("item_started", item.ID, map[string]interface{}{"category": item.Category, "attempt": attempt})
}

func (t Tracer) StageEntered(item engine.WorkItem, stage engine.Stage) {
	t.Recorder.Log("stage", item.ID, stage)
}

func (t Tracer) StrategyTried(item engine.WorkItem, result engine.StrategyResult) {
	t.Recorder.Log("strategy", item.ID, result)
}

func (t Tracer) AttemptFailed(item engine.WorkItem, attempt int, err error) {
	t.Recorder.Log("attempt_failed", item.ID, attemptFailure{Attempt: attempt, Stage: engine.StageOf(err), Error: err.Error()})
}

func (t Tracer) ItemFinished(result engine.ItemResult) {
	t.Recorder.Log("item_finished", result.ItemID, result)
}

func (t Tracer) RunFinished(report engine.Report) {
	t.Recorder.Log("run_finished", "", map[string]interface{}{
		"run_id":    report.RunID,
		"succeeded": len(report.Succeeded()),
		"failed":    len(report.Failed()),
	})
	if err := t.Recorder.Close(); err != nil {
		log.Printf("trace: close run %s: %v", report.RunID, err)
	}
}

var _ engine.Observer = Tracer{}
