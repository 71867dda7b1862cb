package artifactrun

const (
	WorkflowName = "artifact_run"
	ActivityRun  = "artifact_run_execute"
)

type RunInput struct {
	JobType string `json:"job_type"`
}

type RunResult struct {
	JobType   string `json:"job_type"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Retried   int    `json:"retried"`
	Canceled  bool   `json:"canceled"`
	ElapsedMs int64  `json:"elapsed_ms"`
}
