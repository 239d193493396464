package models

import (
	"fmt"
	"time"
)

// Machine is the core domain object representing one shared physical unit.
// Shared between the server, cache and storage layers.
type Machine struct {
	ID           string    `json:"machineId" dynamodbav:"MachineId" yaml:"id"`
	LocationID   string    `json:"locationId" dynamodbav:"LocationId" yaml:"location"`
	Status       Status    `json:"status" dynamodbav:"Status" yaml:"status"`
	CurrentJobID string    `json:"currentJobId,omitempty" dynamodbav:"CurrentJobId,omitempty" yaml:"job,omitempty"`
	Version      int64     `json:"version" dynamodbav:"Version" yaml:"-"`
	UpdatedAt    time.Time `json:"updatedAt" dynamodbav:"UpdatedAt" yaml:"-"`
}

// Clone returns a copy that shares no memory with m.
func (m *Machine) Clone() *Machine {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Status is the lifecycle state of a machine.
type Status string

const (
	StatusAvailable       Status = "AVAILABLE"
	StatusAwaitingDropoff Status = "AWAITING_DROPOFF"
	StatusRunning         Status = "RUNNING"
)

// ParseStatus accepts any non-empty status. Values written by processes outside
// this service (e.g. COMPLETE) are kept verbatim and are never eligible for a
// transition.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return "", fmt.Errorf("empty machine status")
	}
	return Status(s), nil
}

// Known reports whether s is one of the statuses this service moves machines through.
func (s Status) Known() bool {
	switch s {
	case StatusAvailable, StatusAwaitingDropoff, StatusRunning:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether the service may move a machine from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusAvailable:
		return to == StatusAwaitingDropoff
	case StatusAwaitingDropoff:
		return to == StatusRunning
	default:
		return false
	}
}
