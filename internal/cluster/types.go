// Package cluster defines the JSON messages exchanged between the keysweep
// coordinator and its nodes, and the HTTP helpers both sides use to send them.
// See doc.go for the protocol walk-through.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/search"
)

// NodeInfo identifies a worker node in the cluster.
//
// Fields:
//   - ID: unique node identifier, also the worker ID in summaries
//   - Addr: base URL the coordinator uses to reach the node
//     (e.g. "http://127.0.0.1:8081"); found relays go to Addr + "/found"
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// RegisterReply tells a node which job it joined.
type RegisterReply struct {
	JobID    string `json:"job_id"`
	Expected int    `json:"expected"`
}

// ChunkRequest is the body of POST /chunk.
type ChunkRequest struct {
	Worker string `json:"worker"`
}

// TaskReply carries the assigned task. Count == 0 means stop.
type TaskReply struct {
	Start uint64 `json:"start"`
	Count uint64 `json:"count"`
}

// Task converts the reply back into a keyspace task.
func (r TaskReply) Task() keyspace.Task { return keyspace.Task{Start: r.Start, Count: r.Count} }

// TaskReplyFrom converts a task into its wire form.
func TaskReplyFrom(t keyspace.Task) TaskReply { return TaskReply{Start: t.Start, Count: t.Count} }

// FoundNotice is the body of POST /found, in both directions: a node
// reporting its match to the coordinator, and the coordinator relaying the
// first match to the other nodes.
type FoundNotice struct {
	Worker string `json:"worker"`
	Key    uint64 `json:"key"`
}

// SummaryReport is the body of POST /summary.
type SummaryReport struct {
	Worker     string `json:"worker"`
	ElapsedNS  int64  `json:"elapsed_ns"`
	Iterations uint64 `json:"iterations"`
	Found      bool   `json:"found"`
	Key        uint64 `json:"key"`
}

// SummaryReportFrom converts a worker summary into its wire form.
func SummaryReportFrom(s search.Summary) SummaryReport {
	return SummaryReport{
		Worker:     s.Worker,
		ElapsedNS:  s.Elapsed.Nanoseconds(),
		Iterations: s.Iterations,
		Found:      s.Match.Found,
		Key:        s.Match.Key,
	}
}

// Summary converts the report back into a worker summary.
func (r SummaryReport) Summary() search.Summary {
	return search.Summary{
		Worker:     r.Worker,
		Elapsed:    time.Duration(r.ElapsedNS),
		Iterations: r.Iterations,
		Match:      keyspace.Match{Key: r.Key, Found: r.Found},
	}
}

// StatusReply is the body of GET /status.
type StatusReply struct {
	JobID     string     `json:"job_id"`
	State     string     `json:"state"`
	Next      uint64     `json:"next"`
	Exhausted bool       `json:"exhausted"`
	Found     bool       `json:"found"`
	Key       uint64     `json:"key"`
	Chunks    uint64     `json:"chunks"`
	Summaries int        `json:"summaries"`
	Expected  int        `json:"expected"`
	Requeued  int        `json:"requeued"`
	Nodes     []NodeInfo `json:"nodes"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// StatusError is returned by PostJSON and GetJSON for non-2xx replies.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Body)
}

// PostJSON sends body as JSON to url and, when out is non-nil, decodes the
// reply into it.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

// GetJSON fetches url and decodes the JSON reply into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL, err)
	}
	return nil
}
