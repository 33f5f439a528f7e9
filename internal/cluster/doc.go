// Package cluster carries keysweep's dynamic strategy across processes. It
// defines the JSON wire messages, the PostJSON/GetJSON helpers and Client, a
// search.Dispatcher that speaks to a remote coordinator over HTTP.
//
// # Topology
//
// One coordinator owns the keyspace cursor. Nodes register, then pull chunks
// until they receive the empty task:
//
//	              +-------------+
//	              | coordinator |  POST /register /chunk /found /summary
//	              |   (actor)   |  GET  /status /health /metrics
//	              +------+------+
//	                     |
//	      +--------------+--------------+
//	      |              |              |
//	+-----v-----+  +-----v-----+  +-----v-----+
//	|  node-1   |  |  node-2   |  |  node-3   |  POST /found  GET /health
//	+-----------+  +-----------+  +-----------+
//
// # Protocol
//
// Registration (POST /register, RegisterRequest -> RegisterReply):
//   - Re-registering the same ID replaces the address
//   - The reply names the job and the number of expected workers
//
// Chunk request (POST /chunk, ChunkRequest -> TaskReply):
//   - Blocks until the coordinator's actor answers
//   - Count == 0 tells the node to stop scanning
//
// Found notice (POST /found, FoundNotice):
//   - Node to coordinator: the node's own match
//   - Coordinator to node: the first match, relayed to every other node
//     asynchronously; nodes fire their local signal and ignore repeats
//
// Summary (POST /summary, SummaryReport):
//   - Sent exactly once per node after its scan loop ends, even on error
//
// Health (GET /health):
//   - The coordinator probes every registered node; a node failing
//     repeated probes is written off as an empty summary
//
// # Failure Handling
//
// Every request goes through a shared client with a 5 second timeout.
// Non-2xx replies come back as *StatusError. Registration retries with a
// fixed backoff; the other calls do not retry. A retried chunk request
// would skip the range the lost reply carried.
package cluster
