// Package publish delivers tag snapshots and supervision alerts to the
// outside world.
//
// Every publisher is a notify.Listener and is registered with the service
// notifier:
//
//	svc.AddListener(publish.NewBusPublisher(b, logger))
//	svc.OnAlert(pub.PublishAlert)
//
// BusPublisher sends each snapshot to tags.snapshot.<tag id> and alerts to
// supervision.alert. KVPublisher keeps the last snapshot of every tag in a
// JetStream key-value bucket so late consumers can read current state.
// WebSocketHub streams snapshots and alerts to browser clients; a client
// whose send buffer is full is disconnected rather than slowing the
// notifier.
package publish
