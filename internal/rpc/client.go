package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

// Client calls the machine service. Domain outcomes come back as a Result;
// the error return is for transport failures.
type Client struct {
	conn  *grpc.ClientConn
	token string
	owned bool
}

// Dial connects to target without transport security.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn, token: token, owned: true}, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn *grpc.ClientConn, token string) *Client {
	return &Client{conn: conn, token: token}
}

func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	var out PingReply
	if err := c.conn.Invoke(ctx, fullMethod("Ping"), &PingRequest{}, &out, grpc.CallContentSubtype(Codec)); err != nil {
		return "", err
	}
	return out.Msg, nil
}

func (c *Client) RequestMachine(ctx context.Context, locationID, jobID string) (models.Result, error) {
	return c.invoke(ctx, "RequestMachine", &ReserveRequest{LocationID: locationID, JobID: jobID})
}

func (c *Client) GetMachine(ctx context.Context, id string) (models.Result, error) {
	return c.invoke(ctx, "GetMachine", &MachineRequest{MachineID: id})
}

func (c *Client) StartMachine(ctx context.Context, id string) (models.Result, error) {
	return c.invoke(ctx, "StartMachine", &MachineRequest{MachineID: id})
}

func (c *Client) invoke(ctx context.Context, method string, in any) (models.Result, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	var (
		out     models.Result
		trailer metadata.MD
	)
	err := c.conn.Invoke(ctx, fullMethod(method), in, &out, grpc.CallContentSubtype(Codec), grpc.Trailer(&trailer))
	if err == nil {
		return out, nil
	}

	st := status.Convert(err)
	if st.Code() == codes.Unauthenticated {
		return models.Unauthorized(st.Message()), nil
	}
	codeVals := trailer.Get(codeTrailer)
	if len(codeVals) == 0 {
		return models.Result{}, err
	}

	res := models.Result{Code: models.Code(codeVals[0]), Message: st.Message()}
	if vals := trailer.Get(machineTrailer); len(vals) > 0 {
		var m models.Machine
		if jerr := json.Unmarshal([]byte(vals[0]), &m); jerr == nil {
			res.Machine = &m
		}
	}
	return res, nil
}
