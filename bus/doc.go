// Package bus carries supervision traffic between acquisition processes and
// the tag supervisor.
//
// # Implementations
//
//   - NATSBus: production messaging over NATS, with JetStream access for
//     the snapshot key-value bucket
//   - MemoryBus: in-process bus for tests and single-node simulation
//
// # Subjects
//
// Inbound:
//
//	supervision.heartbeat    liveness of processes, equipment, sub-equipment
//	supervision.connection   process connect and disconnect
//	tags.update              value and full updates, consumed by queue group
//
// Outbound:
//
//	tags.snapshot.<tag id>   accepted tag snapshots
//	supervision.alert        down-count alert raise and clear edges
//
// Subscriptions accept the NATS wildcards: "*" matches one token and ">"
// matches one or more trailing tokens.
//
//	sub, _ := b.Subscribe(bus.SubjectSnapshotAll)
//	for msg := range sub.Messages() {
//	    // decode snapshot
//	}
//
// Queue subscriptions spread tag updates across supervisor replicas:
//
//	sub, _ := b.QueueSubscribe(bus.SubjectTagUpdate, bus.QueueTagUpdate)
//
// Delivery never blocks the publisher. A message arriving at a full
// subscription buffer is dropped and counted.
package bus
