// Package heartbeat tracks the liveness of supervised entities.
//
// # Overview
//
// Acquisition processes, equipment units and sub-equipment units send
// periodic heartbeats. The Registry keeps one record per entity (alive
// interval, active flag, newest heartbeat time). The Scanner polls the
// registry and declares an entity DOWN once it has been silent for longer
// than its alive interval plus a third.
//
//	┌─────────────┐  supervision.heartbeat   ┌──────────┐   poll   ┌─────────┐
//	│ Acquisition │ ───────────────────────> │ Registry │ <─────── │ Scanner │──> DOWN events
//	└─────────────┘                          └──────────┘          └─────────┘
//
// # Usage
//
//	reg := heartbeat.NewRegistry(nil)
//	reg.Register(entity.Entity{ID: "P1", Kind: entity.KindProcess, AliveInterval: time.Second})
//
//	scanner, _ := heartbeat.NewScanner(heartbeat.ScannerConfig{
//	    Registry:       reg,
//	    Period:         10 * time.Second,
//	    AlertThreshold: 5,
//	})
//	scanner.OnEvent(func(ctx context.Context, ev entity.Event) error {
//	    return cascader.Cascade(ctx, ev)
//	})
//	go scanner.Run(ctx)
//
// # Guarantees
//
//   - A heartbeat older than the stored one never moves the clock back.
//   - An entity goes inactive exactly once per expiry until it heartbeats again.
//   - Scan cycles never overlap; a tick that finds one running is dropped.
//   - The alert clears only after the down-count stays under the threshold
//     for ClearCycles consecutive cycles, not after a wall-clock delay.
package heartbeat
