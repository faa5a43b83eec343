package schedule

import (
	"go.uber.org/zap"
)

type eventKey struct {
	cluster string
	time    TimeOfDay
}

// Resolve turns active records into the events that govern each cluster.
//
// A record with a malformed start or end is logged and skipped without affecting the
// rest of the batch. When a cluster has any custom event, its default events are
// dropped. Events sharing a (cluster, time) pair collapse to the first one seen.
func Resolve(logger *zap.Logger, records []Record) []Event {
	events := make([]Event, 0, len(records)*2)
	hasCustom := make(map[string]bool)

	for _, rec := range records {
		if rec.Disabled {
			continue
		}
		start, err := ParseTimeOfDay(rec.Start)
		if err != nil {
			logger.Error("dropping record with malformed start", zap.String("id", rec.ID), zap.String("cluster", rec.Cluster), zap.Error(err))
			continue
		}
		end, err := ParseTimeOfDay(rec.End)
		if err != nil {
			logger.Error("dropping record with malformed end", zap.String("id", rec.ID), zap.String("cluster", rec.Cluster), zap.Error(err))
			continue
		}

		events = append(events,
			Event{Cluster: rec.Cluster, Time: start, EventType: EventStart, Kind: rec.Kind, RecordID: rec.ID, Version: rec.Version},
			Event{Cluster: rec.Cluster, Time: end, EventType: EventEnd, Kind: rec.Kind, RecordID: rec.ID, Version: rec.Version},
		)
		if rec.Kind == KindCustom {
			hasCustom[rec.Cluster] = true
		}
	}

	resolved := make([]Event, 0, len(events))
	seen := make(map[eventKey]struct{}, len(events))
	for _, ev := range events {
		if ev.Kind == KindDefault && hasCustom[ev.Cluster] {
			logger.Debug("default event overridden by custom schedule", zap.String("cluster", ev.Cluster), zap.Stringer("event", ev))
			continue
		}
		key := eventKey{cluster: ev.Cluster, time: ev.Time}
		if _, dup := seen[key]; dup {
			logger.Debug("dropping duplicate event", zap.String("cluster", ev.Cluster), zap.Stringer("event", ev))
			continue
		}
		seen[key] = struct{}{}
		resolved = append(resolved, ev)
	}
	return resolved
}
