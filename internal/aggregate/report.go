package aggregate

import (
	"fmt"
	"io"
	"time"

	"github.com/dreamware/keysweep/internal/keyspace"
)

// TrialReport describes one finished trial.
type TrialReport struct {
	Trial      int // 1-based
	Elapsed    time.Duration
	Iterations uint64
	Match      keyspace.Match
}

// FinalReport describes a finished job.
type FinalReport struct {
	Strategy     string
	Participants int
	ChunkSize    uint64
	Trials       int
	Average      time.Duration
	Iterations   uint64
	Match        keyspace.Match
	// Plaintext is the payload decrypted under the found key, if a
	// decrypter was supplied.
	Plaintext []byte
	// Truncated is set when the payload was too large to render.
	Truncated bool
	// Unsearched counts keys no worker got to because the workers holding
	// them were lost. A miss with Unsearched > 0 is inconclusive.
	Unsearched uint64
}

// Sink receives a job's reports. Trial is called once per static trial,
// Final exactly once per job.
type Sink interface {
	Trial(TrialReport)
	Final(FinalReport)
}

// TextSink writes human-readable report lines.
type TextSink struct {
	W io.Writer
}

// Trial writes one "Rep" line.
func (t TextSink) Trial(r TrialReport) {
	fmt.Fprintf(t.W, "Rep %d: elapsed = %.6f s, found_key = %s\n", r.Trial, r.Elapsed.Seconds(), r.Match)
}

// Final writes the job summary and, when found, the key and plaintext.
func (t TextSink) Final(r FinalReport) {
	if r.Strategy == "dynamic" {
		fmt.Fprintf(t.W, "DYNAMIC result: N=%d, chunk=%d, time=%.6f s, iterations=%d, found_key=%s\n",
			r.Participants, r.ChunkSize, r.Average.Seconds(), r.Iterations, r.Match)
	} else {
		fmt.Fprintf(t.W, "Average elapsed over %d runs: %.6f s\n", r.Trials, r.Average.Seconds())
	}

	switch {
	case !r.Match.Found && r.Unsearched > 0:
		fmt.Fprintf(t.W, "No key found; %d keys were left unsearched by lost workers.\n", r.Unsearched)
	case !r.Match.Found:
		fmt.Fprintln(t.W, "No key found in the given range.")
	case r.Truncated:
		fmt.Fprintf(t.W, "FOUND: %d (cipher too big to display)\n", r.Match.Key)
	case r.Plaintext != nil:
		fmt.Fprintf(t.W, "FOUND: %d -> %s\n", r.Match.Key, r.Plaintext)
	default:
		fmt.Fprintf(t.W, "FOUND: %d\n", r.Match.Key)
	}
}

// Recorder keeps every report in memory.
type Recorder struct {
	Trials []TrialReport
	Finals []FinalReport
}

// Trial appends r.
func (c *Recorder) Trial(r TrialReport) { c.Trials = append(c.Trials, r) }

// Final appends r.
func (c *Recorder) Final(r FinalReport) { c.Finals = append(c.Finals, r) }

// Discard drops every report.
type Discard struct{}

// Trial does nothing.
func (Discard) Trial(TrialReport) {}

// Final does nothing.
func (Discard) Final(FinalReport) {}
