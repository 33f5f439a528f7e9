// Package coordinator implements keysweep's dynamic strategy: a single actor
// that owns the keyspace cursor and hands chunks to workers on demand, plus
// the pieces needed to run it across processes.
//
// # Overview
//
// Workers never share state with each other or with the coordinator. Every
// interaction is a message into the coordinator's inbox, served one at a time
// by Run:
//
//	            chunk request ──┐
//	             found notice ──┤     ┌──────────────┐
//	                  summary ──┼───> │ Coordinator  │──> Broadcaster (found key)
//	               lost worker ─┤     │ (Run loop)   │
//	            status query  ──┘     └──────────────┘
//
// Lifecycle:
//
//	Dispatching ──first found──> Draining ──all summaries──> Done
//	     │                                          ^
//	     └──────────────keyspace exhausted,─────────┘
//	                    all summaries
//
// # Core Components
//
// Coordinator: the actor
//   - Assigns {next, min(remaining, chunk)} and advances; the empty task once
//     a key is known or the keyspace has run out
//   - Keeps the first found key and relays it through the Broadcaster; later
//     notices are recorded in Outcome.Reports and otherwise ignored
//   - Collects one summary per worker; a lost worker counts as an empty one
//   - Remembers the task each worker holds and requeues it when the worker
//     is lost, stops early or abandons the request; requeued tasks go out
//     before the cursor advances, and leftovers end up in Outcome.Unsearched
//   - Drops (logs and counts) messages from unknown workers and duplicate
//     summaries
//
// Link / NewLocal: in-process workers
//   - Each Link implements search.Dispatcher with channel round trips
//   - Each worker gets its own search.Signal; the local broadcaster fires all
//     but the sender's
//
// Server, Roster, HealthMonitor, HTTPBroadcaster: remote workers
//   - Server maps the cluster HTTP API onto coordinator messages (chi)
//   - Roster holds registered nodes and backs Config.Known
//   - HealthMonitor probes nodes; lost nodes are reported with MarkLost
//   - HTTPBroadcaster relays the found key with POST {node}/found
//
// # Concurrency Model
//
// The cursor, found key and summary table are owned by the Run goroutine.
// Caller methods block only until the actor takes the message (and, for
// requests, until it replies); replies go on buffered channels so the actor
// never blocks on a slow caller. Once Run returns, Done is closed, chunk
// requests receive the empty task and other sends fail with ErrClosed.
//
// # Example
//
//	c, links, err := coordinator.NewLocal(coordinator.Config{
//	    Keyspace:  keyspace.Keyspace{Start: 0, End: 999},
//	    ChunkSize: 100,
//	}, []string{"w1", "w2", "w3"}, nil)
//	if err != nil {
//	    return err
//	}
//	for _, l := range links {
//	    go search.NewWorker(l.ID(), o, nil).ServeDynamic(ctx, l)
//	}
//	out, err := c.Run(ctx)
package coordinator
