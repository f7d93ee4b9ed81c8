package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/tag"
)

// KVConfig configures the snapshot bucket.
type KVConfig struct {
	// Bucket name. Default: "tag-snapshots"
	Bucket string

	// History is the number of revisions kept per tag, at most
	// MaxKVHistory. Default: 1
	History int

	// TTL expires snapshots of tags that stop changing (0 = never).
	TTL time.Duration

	// Timeout bounds each KV operation. Default: 5 seconds
	Timeout time.Duration
}

// MaxKVHistory is JetStream's per-key history limit.
const MaxKVHistory = 64

// DefaultKVConfig returns configuration with sensible defaults.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		Bucket:  "tag-snapshots",
		History: 1,
		Timeout: 5 * time.Second,
	}
}

// KVPublisher keeps the latest snapshot of every tag in a JetStream
// key-value bucket.
type KVPublisher struct {
	kv      jetstream.KeyValue
	timeout time.Duration
}

// NewKVPublisher creates or updates the bucket and returns a publisher
// writing to it.
func NewKVPublisher(ctx context.Context, js jetstream.JetStream, cfg KVConfig) (*KVPublisher, error) {
	cfg = cfg.withDefaults()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "latest tag snapshots",
		History:     uint8(cfg.History),
		TTL:         cfg.TTL,
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "creating kv bucket "+cfg.Bucket)
	}
	return &KVPublisher{kv: kv, timeout: cfg.Timeout}, nil
}

// withDefaults fills unset fields and clamps History to MaxKVHistory.
func (c KVConfig) withDefaults() KVConfig {
	defaults := DefaultKVConfig()
	if c.Bucket == "" {
		c.Bucket = defaults.Bucket
	}
	if c.History <= 0 {
		c.History = defaults.History
	}
	if c.History > MaxKVHistory {
		c.History = MaxKVHistory
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	return c
}

// OnSnapshot stores s under its tag's key.
func (p *KVPublisher) OnSnapshot(s tag.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot", errors.WithTagID(s.ID))
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if _, err := p.kv.Put(ctx, Key(s.ID), data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "kv put", errors.WithTagID(s.ID))
	}
	return nil
}

// Get returns the stored snapshot of a tag.
func (p *KVPublisher) Get(ctx context.Context, tagID string) (tag.Snapshot, error) {
	entry, err := p.kv.Get(ctx, Key(tagID))
	if err == jetstream.ErrKeyNotFound {
		return tag.Snapshot{}, errors.TagNotFound(tagID)
	}
	if err != nil {
		return tag.Snapshot{}, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "kv get", errors.WithTagID(tagID))
	}
	var s tag.Snapshot
	if err := json.Unmarshal(entry.Value(), &s); err != nil {
		return tag.Snapshot{}, errors.Wrap(err, "decoding snapshot", errors.WithTagID(tagID))
	}
	return s, nil
}

// Delete drops a tag's snapshot. A missing key is not an error.
func (p *KVPublisher) Delete(ctx context.Context, tagID string) error {
	err := p.kv.Delete(ctx, Key(tagID))
	if err != nil && err != jetstream.ErrKeyNotFound {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "kv delete", errors.WithTagID(tagID))
	}
	return nil
}

// Key maps a tag id to a valid KV key. Bytes outside [-/_.a-zA-Z0-9] are
// escaped as =XX, so distinct ids never share a key.
func Key(tagID string) string {
	var b strings.Builder
	for i := 0; i < len(tagID); i++ {
		c := tagID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '/', c == '_':
			b.WriteByte(c)
		case c == '.' && i > 0 && i < len(tagID)-1 && tagID[i-1] != '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}
