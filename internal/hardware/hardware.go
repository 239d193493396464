// Package hardware talks to the physical machines. A start-cycle command either
// succeeds or fails; there is no partial result.
package hardware

import (
	"context"
	"errors"
)

// ErrRejected means the machine (or its controller) refused the command.
var ErrRejected = errors.New("hardware rejected command")

type Client interface {
	StartCycle(ctx context.Context, machineID string) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, machineID string) error

func (f ClientFunc) StartCycle(ctx context.Context, machineID string) error {
	return f(ctx, machineID)
}
