package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/config"
	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/service"
)

var (
	silenced    []string
	updateEvery time.Duration
	simulateFor time.Duration
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Bus.Kind != "nats" {
		return errors.InvalidInput("simulate talks to a running supervisor and needs bus.kind = \"nats\"")
	}
	if updateEvery <= 0 {
		updateEvery = time.Second
	}

	b, err := openBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	if simulateFor > 0 {
		ctx, stop = context.WithTimeout(ctx, simulateFor)
		defer stop()
	}

	out := cmd.OutOrStdout()
	var senders []*heartbeat.BusSender
	for _, e := range cfg.EntityList() {
		if e.Kind == entity.KindProcess {
			if err := publishConnection(b, e, true); err != nil {
				return err
			}
		}
		sender, err := heartbeat.NewBusSender(heartbeat.SenderConfig{
			Bus:      b,
			EntityID: e.ID,
			Kind:     e.Kind,
			Interval: e.AliveInterval,
		})
		if err != nil {
			return err
		}
		if slices.Contains(silenced, e.ID) {
			if err := sender.Send(time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s: one heartbeat, then silence\n", e.Kind, e.ID)
			continue
		}
		if err := sender.Start(ctx); err != nil {
			return err
		}
		senders = append(senders, sender)
		fmt.Fprintf(out, "%s %s: heartbeat every %s\n", e.Kind, e.ID, e.AliveInterval)
	}

	tags := plainTags(cfg)
	ticker := time.NewTicker(updateEvery)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case now := <-ticker.C:
			for _, id := range tags {
				ev := service.ValueUpdateEvent{
					TagID:           id,
					Value:           rand.Float64() * 100,
					SourceTimestamp: now,
					DAQTimestamp:    time.Now(),
				}
				data, err := ev.Marshal()
				if err != nil {
					return err
				}
				if err := b.Publish(bus.SubjectTagUpdate, data); err != nil {
					return err
				}
			}
		}
	}

	for _, s := range senders {
		s.Stop()
	}
	for _, e := range cfg.EntityList() {
		if e.Kind == entity.KindProcess && !slices.Contains(silenced, e.ID) {
			if err := publishConnection(b, e, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func publishConnection(b bus.MessageBus, e entity.Entity, up bool) error {
	data, err := json.Marshal(service.ConnectionEvent{
		EntityID:  e.ID,
		Kind:      e.Kind,
		Up:        up,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return b.Publish(bus.SubjectConnection, data)
}

// plainTags returns the tags that are not an entity's fault or state tag.
func plainTags(cfg *config.Config) []string {
	owned := make(map[string]bool)
	for _, e := range cfg.Entities {
		owned[e.CommFaultTag] = true
		owned[e.StateTag] = true
	}
	var ids []string
	for _, t := range cfg.Tags {
		if !owned[t.ID] {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
