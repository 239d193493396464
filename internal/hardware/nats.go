package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	DefaultSubjectPrefix  = "machines.hw"
	DefaultRequestTimeout = 30 * time.Second
	agentQueueGroup       = "laundromat-agents"
)

type StartRequest struct {
	RequestID   string    `json:"requestId"`
	MachineID   string    `json:"machineId"`
	RequestedAt time.Time `json:"requestedAt"`
}

type StartReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StartSubject is the subject a start-cycle request for machineID is sent on.
func StartSubject(prefix, machineID string) string {
	return prefix + "." + machineID + ".start"
}

// NATSClient sends start-cycle commands as NATS requests and waits for the
// agent controlling the machine to answer.
type NATSClient struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

func NewNATSClient(nc *nats.Conn, prefix string, timeout time.Duration) *NATSClient {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &NATSClient{nc: nc, prefix: prefix, timeout: timeout}
}

// StartCycle applies the configured timeout only when ctx has no deadline;
// NATS request/reply cannot wait unbounded.
func (c *NATSClient) StartCycle(ctx context.Context, machineID string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(StartRequest{
		RequestID:   uuid.NewString(),
		MachineID:   machineID,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	msg, err := c.nc.RequestWithContext(ctx, StartSubject(c.prefix, machineID), payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%w: no agent for machine %s", ErrRejected, machineID)
		}
		return fmt.Errorf("start cycle request for %s: %w", machineID, err)
	}

	var reply StartReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode start reply for %s: %w", machineID, err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return nil
}

// Agent answers start-cycle requests on behalf of the machines it controls by
// forwarding them to a local Client.
type Agent struct {
	nc     *nats.Conn
	prefix string
	local  Client
	logger *zap.Logger
	sub    *nats.Subscription
}

func NewAgent(nc *nats.Conn, prefix string, local Client, logger *zap.Logger) *Agent {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{nc: nc, prefix: prefix, local: local, logger: logger.Named("hardware_agent")}
}

func (a *Agent) Start(ctx context.Context) error {
	sub, err := a.nc.QueueSubscribe(StartSubject(a.prefix, "*"), agentQueueGroup, func(msg *nats.Msg) {
		a.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.sub = sub
	a.logger.Info("hardware agent listening", zap.String("subject", sub.Subject))
	return nil
}

func (a *Agent) Stop() error {
	if a.sub == nil {
		return nil
	}
	return a.sub.Drain()
}

func (a *Agent) handle(ctx context.Context, msg *nats.Msg) {
	var req StartRequest
	reply := StartReply{OK: true}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.MachineID == "" {
		reply = StartReply{Error: "malformed start request"}
	} else if err := a.local.StartCycle(ctx, req.MachineID); err != nil {
		a.logger.Warn("start cycle failed", zap.String("machine_id", req.MachineID), zap.Error(err))
		reply = StartReply{Error: err.Error()}
	} else {
		a.logger.Info("cycle started", zap.String("machine_id", req.MachineID), zap.String("request_id", req.RequestID))
	}

	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		a.logger.Error("respond failed", zap.Error(err))
	}
}
