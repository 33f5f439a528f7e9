package cluster

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/search"
)

// Client is a node's link to a remote coordinator. It implements
// search.Dispatcher; the relayed key arrives out of band through the node's
// own POST /found handler, which fires Signal.
type Client struct {
	Coordinator string // base URL, e.g. "http://127.0.0.1:8080"
	Worker      string
	Signal      *search.Signal
}

var _ search.Dispatcher = (*Client)(nil)

// NewClient returns a client for worker talking to the coordinator at base.
func NewClient(base, worker string) *Client {
	return &Client{
		Coordinator: strings.TrimRight(base, "/"),
		Worker:      worker,
		Signal:      search.NewSignal(),
	}
}

// Register announces node to the coordinator, retrying with a fixed backoff
// until it succeeds, attempts run out, or ctx ends.
func (c *Client) Register(ctx context.Context, node NodeInfo, attempts int, backoff time.Duration) (RegisterReply, error) {
	var (
		reply RegisterReply
		err   error
	)
	url := c.Coordinator + "/register"
	for i := 1; i <= attempts; i++ {
		err = PostJSON(ctx, url, RegisterRequest{Node: node}, &reply)
		if err == nil {
			return reply, nil
		}
		log.WithFields(log.Fields{"attempt": i, "of": attempts}).WithError(err).Warn("register failed")
		select {
		case <-ctx.Done():
			return reply, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return reply, fmt.Errorf("register %s after %d attempts: %w", node.ID, attempts, err)
}

// RequestChunk implements search.Dispatcher.
func (c *Client) RequestChunk(ctx context.Context) (keyspace.Task, error) {
	var reply TaskReply
	if err := PostJSON(ctx, c.Coordinator+"/chunk", ChunkRequest{Worker: c.Worker}, &reply); err != nil {
		return keyspace.Task{}, fmt.Errorf("request chunk: %w", err)
	}
	return reply.Task(), nil
}

// ReportFound implements search.Dispatcher.
func (c *Client) ReportFound(ctx context.Context, key uint64) error {
	if err := PostJSON(ctx, c.Coordinator+"/found", FoundNotice{Worker: c.Worker, Key: key}, nil); err != nil {
		return fmt.Errorf("report found: %w", err)
	}
	return nil
}

// ReportSummary implements search.Dispatcher.
func (c *Client) ReportSummary(ctx context.Context, s search.Summary) error {
	s.Worker = c.Worker
	if err := PostJSON(ctx, c.Coordinator+"/summary", SummaryReportFrom(s), nil); err != nil {
		return fmt.Errorf("report summary: %w", err)
	}
	return nil
}

// Heard implements search.Dispatcher.
func (c *Client) Heard() (uint64, bool) { return c.Signal.Poll() }

// Status fetches the coordinator's status.
func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var st StatusReply
	err := GetJSON(ctx, c.Coordinator+"/status", &st)
	return st, err
}
