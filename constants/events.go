package constants

// Event names written to the run event log. One NDJSON record per event.
const (
	EventEnqueue         = "enqueue"
	EventStart           = "start"
	EventRetry           = "retry"
	EventFileProcessed   = "file_processed"
	EventValidationIssue = "validation_issue"
	EventWorkerSpawn     = "worker.spawn"
	EventWorkerExit      = "worker.exit"
	EventError           = "error"
	EventExit            = "exit"
)

// HookStage names a lifecycle point at which hook scripts run.
type HookStage string

const (
	StageOnActivate     HookStage = "on_activate"
	StageOnJobStart     HookStage = "on_job_start"
	StageOnAfterExtract HookStage = "on_after_extract"
	StageOnBeforeSave   HookStage = "on_before_save"
	StageOnJobEnd       HookStage = "on_job_end"
)
