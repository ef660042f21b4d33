package store

import (
	"context"

	"github.com/tidemark-io/tidemark/es"
)

// FetchFunc reads up to limit stored records with positions strictly greater
// than after, in ascending position order. Records are raw: not yet passed
// through the upgrade pipeline. Backends supply one when assembling a page
// with CollectPage.
type FetchFunc func(ctx context.Context, after es.Position, limit int) ([]es.PersistedEvent, error)

// ExpandFunc maps one stored record onto its current-schema events. An empty
// result suppresses the record; its position stays burned and the scan moves
// past it.
type ExpandFunc func(rec es.PersistedEvent) ([]es.PersistedEvent, error)

// CollectPage assembles one page of the global log. It repeats fetch steps
// until it has gathered events or exhausted the log, skipping the gaps left
// by deleted streams and suppressed records, so a page is never empty while
// live events remain ahead of it.
//
// One stored record's expansion is never split across pages: assembly stops
// before a record whose expansion would overflow maxCount, unless the page
// is still empty, in which case the full expansion is returned so the scan
// always makes progress.
//
// Cancellation is honored between fetch steps.
func CollectPage(ctx context.Context, from es.Position, maxCount int, fetch FetchFunc, expand ExpandFunc) (Page, error) {
	if maxCount <= 0 {
		return Page{}, ErrInvalidLimit
	}

	page := Page{Next: from}
	after := from
	for {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}

		batch, err := fetch(ctx, after, maxCount)
		if err != nil {
			return Page{}, err
		}
		if len(batch) == 0 {
			// Log exhausted. Next stays at the last returned event,
			// or at from when nothing was found.
			return page, nil
		}

		for i := range batch {
			rec := batch[i]
			after = rec.GlobalPosition

			expanded, err := expand(rec)
			if err != nil {
				return Page{}, err
			}
			if len(expanded) == 0 {
				continue
			}

			if len(page.Events) > 0 && len(page.Events)+len(expanded) > maxCount {
				return page, nil
			}

			page.Events = append(page.Events, expanded...)
			page.Next = rec.GlobalPosition

			if len(page.Events) >= maxCount {
				return page, nil
			}
		}
	}
}
