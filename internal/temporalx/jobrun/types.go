package jobrun

const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"
)

// TickResult is the job state after one activity run.
type TickResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}
