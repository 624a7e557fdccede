package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tutorledger/tutorledger/internal/ledger"
)

const (
	// QueueDefault carries maintenance work: reconcile and cleanup.
	QueueDefault = "default"
	// QueueNotify carries parent notifications, served at lower priority.
	QueueNotify = "notify"
	// TaskAttendanceReconcile repairs attendance logs that drifted from the ledger.
	TaskAttendanceReconcile = "attendance:reconcile"
	// TaskNotifyAttendance tells a parent that a session was attended.
	TaskNotifyAttendance = "notify:attendance"
)

// ReconcilePayload selects the students to repair. A zero StudentID scans for
// drifted students, at most Limit of them.
type ReconcilePayload struct {
	StudentID int64 `json:"student_id,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

// NotifyPayload describes one attended session.
type NotifyPayload struct {
	StudentID int64     `json:"student_id"`
	Period    string    `json:"period"`
	Center    string    `json:"center"`
	Funding   string    `json:"funding"`
	At        time.Time `json:"at"`
}

// NotifyPayloadFromEvent converts a ledger event into a task payload.
func NotifyPayloadFromEvent(event ledger.AttendanceEvent) NotifyPayload {
	return NotifyPayload{
		StudentID: event.StudentID,
		Period:    event.Period.String(),
		Center:    event.Center,
		Funding:   string(event.Funding),
		At:        event.At,
	}
}

// Queues lists every queue the worker serves, with its priority weight.
var Queues = map[string]int{QueueDefault: 3, QueueNotify: 1}

// NewReconcileTask builds a reconcile task on QueueDefault.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttendanceReconcile, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(10*time.Minute)), nil
}

// NewNotifyTask builds a notification task on QueueNotify.
func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyAttendance, data, asynq.Queue(QueueNotify), asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}
