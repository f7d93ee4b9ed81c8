package tag

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/vinayprograms/tagwatch/entity"
)

// Flag is one reason a tag value is invalid.
type Flag string

// Supervision flags, owned by the quality aggregator.
const (
	FlagProcessDown      Flag = "PROCESS_DOWN"
	FlagEquipmentDown    Flag = "EQUIPMENT_DOWN"
	FlagSubEquipmentDown Flag = "SUBEQUIPMENT_DOWN"
)

// Flags set by acquisition and carried on updates.
const (
	FlagUninitialized     Flag = "UNINITIALIZED"
	FlagInaccessible      Flag = "INACCESSIBLE"
	FlagDataOutdated      Flag = "DATA_OUTDATED"
	FlagValueOutOfBounds  Flag = "VALUE_OUT_OF_BOUNDS"
	FlagConversionError   Flag = "CONVERSION_ERROR"
	FlagUnknownReason     Flag = "UNKNOWN_REASON"
	FlagUnsupportedType   Flag = "UNSUPPORTED_TYPE"
	FlagUnderlyingInvalid Flag = "UNDERLYING_INVALID"
)

// SupervisionFlag returns the flag raised on a tag when an ancestor of the
// given kind is down.
func SupervisionFlag(kind entity.Kind) Flag {
	switch kind {
	case entity.KindProcess:
		return FlagProcessDown
	case entity.KindEquipment:
		return FlagEquipmentDown
	default:
		return FlagSubEquipmentDown
	}
}

// Supervision reports whether f is managed by supervision rather than by
// updates.
func (f Flag) Supervision() bool {
	return f == FlagProcessDown || f == FlagEquipmentDown || f == FlagSubEquipmentDown
}

// Quality is the set of invalidity flags on a tag, each with a message.
// A tag is accessible exactly when no flag is set. The zero value is a
// valid, accessible quality.
type Quality struct {
	flags map[Flag]string
}

// Valid returns an accessible quality.
func Valid() Quality {
	return Quality{}
}

// Invalid returns a quality with a single flag set.
func Invalid(f Flag, msg string) Quality {
	return Quality{flags: map[Flag]string{f: msg}}
}

// Accessible reports whether no invalidity flag is set.
func (q Quality) Accessible() bool {
	return len(q.flags) == 0
}

// Has reports whether f is set.
func (q Quality) Has(f Flag) bool {
	_, ok := q.flags[f]
	return ok
}

// Message returns the message attached to f.
func (q Quality) Message(f Flag) (string, bool) {
	msg, ok := q.flags[f]
	return msg, ok
}

// Flags returns the set flags in sorted order.
func (q Quality) Flags() []Flag {
	out := make([]Flag, 0, len(q.flags))
	for f := range q.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set raises f with msg. It reports whether the quality changed.
func (q *Quality) Set(f Flag, msg string) bool {
	if cur, ok := q.flags[f]; ok && cur == msg {
		return false
	}
	if q.flags == nil {
		q.flags = make(map[Flag]string)
	}
	q.flags[f] = msg
	return true
}

// Clear removes f. It reports whether the quality changed.
func (q *Quality) Clear(f Flag) bool {
	if _, ok := q.flags[f]; !ok {
		return false
	}
	delete(q.flags, f)
	return true
}

// Equal reports whether both qualities carry the same flags and messages.
func (q Quality) Equal(o Quality) bool {
	if len(q.flags) != len(o.flags) {
		return false
	}
	for f, msg := range q.flags {
		if om, ok := o.flags[f]; !ok || om != msg {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (q Quality) Clone() Quality {
	if len(q.flags) == 0 {
		return Quality{}
	}
	flags := make(map[Flag]string, len(q.flags))
	for f, msg := range q.flags {
		flags[f] = msg
	}
	return Quality{flags: flags}
}

// mergeUpdate returns the update's acquisition flags combined with the
// supervision flags currently held in q.
func (q Quality) mergeUpdate(u Quality) Quality {
	var out Quality
	for f, msg := range u.flags {
		if !f.Supervision() {
			out.Set(f, msg)
		}
	}
	for f, msg := range q.flags {
		if f.Supervision() {
			out.Set(f, msg)
		}
	}
	return out
}

// String renders the flags as "FLAG: message" pairs.
func (q Quality) String() string {
	if q.Accessible() {
		return "OK"
	}
	parts := make([]string, 0, len(q.flags))
	for _, f := range q.Flags() {
		parts = append(parts, string(f)+": "+q.flags[f])
	}
	return strings.Join(parts, "; ")
}

type qualityJSON struct {
	Accessible bool            `json:"accessible"`
	Flags      map[Flag]string `json:"flags,omitempty"`
}

// MarshalJSON encodes the quality with its derived accessible field.
func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(qualityJSON{Accessible: q.Accessible(), Flags: q.flags})
}

// UnmarshalJSON decodes the flags; the accessible field is ignored since
// it is derived.
func (q *Quality) UnmarshalJSON(data []byte) error {
	var v qualityJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*q = Quality{}
	for f, msg := range v.Flags {
		q.Set(f, msg)
	}
	return nil
}

// RecomputeSupervision derives the supervision flag for kind from the
// status map: the flag is set while any ancestor is DOWN or STOPPED, with
// their messages joined by "; " in entity id order, and cleared otherwise.
// It reports whether q changed.
func RecomputeSupervision(kind entity.Kind, statuses map[string]entity.Event, q *Quality) bool {
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var msgs []string
	for _, id := range ids {
		ev := statuses[id]
		if !ev.Status.Unavailable() {
			continue
		}
		msg := ev.Message
		if msg == "" {
			msg = entity.DefaultMessage(kind, id, ev.Status)
		}
		msgs = append(msgs, msg)
	}

	flag := SupervisionFlag(kind)
	if len(msgs) == 0 {
		return q.Clear(flag)
	}
	return q.Set(flag, strings.Join(msgs, "; "))
}
