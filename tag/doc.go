// Package tag holds the authoritative state of published tags and decides
// which incoming updates are applied.
//
// # Acceptance
//
// Accept orders an update against the stored record using three clocks of
// decreasing trust: the server timestamp, the DAQ timestamp and the source
// timestamp. A later server timestamp always wins. Ties fall through to
// the DAQ timestamp and then to the source timestamp; a full update (one
// that also carries configuration) wins a tie that a plain value update
// would lose.
//
// # Store
//
// Store applies updates under a per-record write lock, builds the snapshot
// while still holding it, and hands the snapshot to its Notifier after the
// lock is released:
//
//	store := tag.NewStore(tag.StoreConfig{Notifier: n})
//	store.Create(tag.Config{ID: "T1", ProcessIDs: []string{"P1"}})
//	ok, err := store.Apply(ctx, &tag.Update{TagID: "T1", Value: 3.2, ServerTimestamp: now})
//
// # Quality
//
// Quality is a set of invalidity flags. The supervision flags
// (PROCESS_DOWN, EQUIPMENT_DOWN, SUBEQUIPMENT_DOWN) are derived from the
// status of the tag's declared ancestors and survive value updates; every
// other flag is replaced by each accepted update.
package tag
