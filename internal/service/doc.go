// Package service runs a vcgencmd node as a long lived process.
//
// The Supervisor owns an event loop which feeds the node with triggers coming
// from three sources:
//   - a NATS subscription (WithNATS)
//   - a gocron schedule, either cron or ISO 8601 duration (WithSchedule)
//   - direct calls to Trigger
//
// Data flow:
//
//	NATS / gocron / Trigger
//	        |
//	   Supervisor.Do ---- OnTrigger ----> node.Node ---- runner ----> vcgencmd
//	                                         |
//	                                      Emitter (WriteSink, NATSSink, MultiSink)
//
// The node runs at most one process at a time; triggers arriving meanwhile
// are dropped and logged by the node. When the context passed to Do is
// cancelled the subscription is drained, the scheduler stopped and the node
// shut down, killing the process in flight without emitting its results.
package service
