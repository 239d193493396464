package models

import "time"

type EventKind string

const (
	EventMachineReserved    EventKind = "machine.reserved"
	EventMachineStarted     EventKind = "machine.started"
	EventMachineStartFailed EventKind = "machine.start_failed"
)

// Event is a lifecycle notification emitted after a machine operation.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"event"`
	MachineID  string    `json:"machineId"`
	LocationID string    `json:"locationId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}
