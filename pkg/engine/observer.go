package engine

// NotificationType identifies an executor notification.
type NotificationType string

const (
	// NotifyPlanReady is emitted once before the first layer starts.
	NotifyPlanReady NotificationType = "plan-ready"

	// NotifyLayerStart is emitted when a layer begins executing.
	NotifyLayerStart NotificationType = "layer-start"

	// NotifyLayerSkipped is emitted for a retained empty layer.
	NotifyLayerSkipped NotificationType = "layer-skipped"

	// NotifyJobStart is emitted when a job is dequeued.
	NotifyJobStart NotificationType = "job-start"

	// NotifyJobComplete is emitted when a job reaches a terminal status.
	NotifyJobComplete NotificationType = "job-complete"

	// NotifyLayerComplete is emitted after every job of a layer completed.
	NotifyLayerComplete NotificationType = "layer-complete"

	// NotifyProducerProgress relays a structured handler progress message.
	NotifyProducerProgress NotificationType = "producer-progress"

	// NotifyExecutionComplete is emitted once with the final summary.
	NotifyExecutionComplete NotificationType = "execution-complete"

	// NotifyExecutionCancelled is emitted when the run is cancelled.
	NotifyExecutionCancelled NotificationType = "execution-cancelled"

	// NotifyError relays an engine-level error outside any job.
	NotifyError NotificationType = "error"
)

// Notification is one typed executor event. Within a job, start precedes
// complete; within a layer, layer-start precedes all job events precedes
// layer-complete.
type Notification struct {
	Type NotificationType `json:"type"`

	// Layer is the layer index for layer and job notifications.
	Layer int `json:"layer,omitempty"`

	// JobCount is the number of jobs in a starting layer.
	JobCount int `json:"jobCount,omitempty"`

	// JobID and Producer identify the job for job notifications.
	JobID    string `json:"jobId,omitempty"`
	Producer string `json:"producer,omitempty"`

	// Status is the terminal status of a completed job.
	Status JobStatus `json:"status,omitempty"`

	// Attempts counts handler invocations of a completed job, including
	// retries.
	Attempts int `json:"attempts,omitempty"`

	// ErrorMessage carries the failure message of a failed job or an
	// engine error.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Succeeded, Failed and Skipped summarize a completed layer.
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Skipped   int `json:"skipped,omitempty"`

	// Message and Fields carry producer progress payloads.
	Message string                 `json:"message,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`

	// Summary is attached to execution-complete.
	Summary *BuildSummary `json:"summary,omitempty"`
}

// Observer receives executor notifications. Implementations must be safe
// for concurrent use; job notifications arrive from worker goroutines.
type Observer interface {
	Notify(n Notification)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(n Notification)

// Notify implements Observer.
func (f ObserverFunc) Notify(n Notification) {
	f(n)
}
