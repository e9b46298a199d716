package ics

import (
	"context"
	"fmt"

	"sharedcal/internal/calmath"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/model"
)

// Target is the part of the event store an import writes to.
type Target interface {
	ListRange(ctx context.Context, start, end calmath.Date) ([]model.Event, error)
	Create(ctx context.Context, d model.Draft) (model.Event, error)
}

// Report summarizes one import run.
type Report struct {
	Created   int
	Duplicate int
	Failed    int
	Errors    []error
}

// Import creates a schedule for every item not already present. An item is a
// duplicate when an event with the same date, times and title exists, so
// re-importing a feed is idempotent.
func Import(ctx context.Context, t Target, items []Item) (Report, error) {
	var rep Report
	if len(items) == 0 {
		return rep, nil
	}

	span := calmath.Range{Start: items[0].Draft.Date, End: items[0].Draft.Date}
	for _, it := range items[1:] {
		if it.Draft.Date.Before(span.Start) {
			span.Start = it.Draft.Date
		}
		if it.Draft.Date.After(span.End) {
			span.End = it.Draft.Date
		}
	}
	existing, err := t.ListRange(ctx, span.Start, span.End)
	if err != nil {
		return rep, fmt.Errorf("ics: import: list existing: %w", err)
	}

	seen := make(map[string]bool, len(existing)+len(items))
	for _, ev := range existing {
		seen[fingerprint(model.DraftOf(ev))] = true
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		fp := fingerprint(it.Draft)
		if seen[fp] {
			rep.Duplicate++
			continue
		}
		if _, err := t.Create(ctx, it.Draft); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Errorf("ics: %s: %w", it.UID, err))
			continue
		}
		seen[fp] = true
		rep.Created++
	}

	appLog.Info("ics import completed", "created", rep.Created, "duplicate", rep.Duplicate, "failed", rep.Failed)
	return rep, nil
}

func fingerprint(d model.Draft) string {
	return d.Date.String() + "|" + d.StartTime.String() + "|" + d.EndTime.String() + "|" + d.Title
}
