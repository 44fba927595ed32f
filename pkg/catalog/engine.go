package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tonysoukkeo/eshopwatch/internal/store"
	"github.com/tonysoukkeo/eshopwatch/pkg/mail"
	"github.com/tonysoukkeo/eshopwatch/pkg/site"
)

// Engine reconciles scraped category snapshots against the stored catalog.
type Engine struct {
	store  store.Store
	site   site.Adapter
	mailer mail.Mailer // optional, nil = in-app notifications only
}

// NewEngine creates a reconciliation engine.
func NewEngine(s store.Store, adapter site.Adapter, mailer mail.Mailer) *Engine {
	return &Engine{
		store:  s,
		site:   adapter,
		mailer: mailer,
	}
}

// CategorySummary reports what one category's reconciliation did.
type CategorySummary struct {
	Category site.Category `json:"category"`
	Listings int           `json:"listings"`
	Skipped  bool          `json:"skipped"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Missing  int           `json:"missing"` // detail unavailable, retried next run
	Retired  int           `json:"retired"` // sales that ended
	Notified int           `json:"notified"`
}

// Summary reports a full run across all categories.
type Summary struct {
	Categories []CategorySummary `json:"categories"`
}

func (s Summary) String() string {
	var b strings.Builder
	for _, c := range s.Categories {
		if c.Skipped {
			fmt.Fprintf(&b, "%s: unchanged (%d listings); ", c.Category, c.Listings)
			continue
		}
		fmt.Fprintf(&b, "%s: %d listings, %d created, %d updated", c.Category, c.Listings, c.Created, c.Updated)
		if c.Missing > 0 {
			fmt.Fprintf(&b, ", %d missing", c.Missing)
		}
		if c.Retired > 0 {
			fmt.Fprintf(&b, ", %d sales ended", c.Retired)
		}
		if c.Notified > 0 {
			fmt.Fprintf(&b, ", %d users notified", c.Notified)
		}
		b.WriteString("; ")
	}
	return strings.TrimSuffix(b.String(), "; ")
}

// ReconcileAll runs every category in the fixed order. The first failing
// category aborts the remainder of the run; the summary still covers the
// categories that completed.
func (e *Engine) ReconcileAll(ctx context.Context) (Summary, error) {
	var sum Summary
	for _, cat := range site.ReconcileOrder() {
		cs, err := e.Reconcile(ctx, cat)
		sum.Categories = append(sum.Categories, cs)
		if err != nil {
			return sum, fmt.Errorf("reconcile %s: %w", cat, err)
		}
	}
	return sum, nil
}

// Reconcile brings the catalog and the category's index collection in line
// with the site's current snapshot. Idempotent and safe to re-run after a
// partial failure.
func (e *Engine) Reconcile(ctx context.Context, cat site.Category) (CategorySummary, error) {
	cs := CategorySummary{Category: cat}

	listings, err := e.site.ListCategory(ctx, cat)
	if err != nil {
		return cs, fmt.Errorf("list %s: %w", cat, err)
	}
	cs.Listings = len(listings)

	index, err := e.store.ListIndex(ctx, cat)
	if err != nil {
		return cs, err
	}

	if unchanged(listings, index) {
		cs.Skipped = true
	} else {
		for _, l := range listings {
			if l.Title == "" {
				continue
			}
			outcome, err := e.upsertListing(ctx, cat, l)
			if err != nil {
				return cs, err
			}
			switch outcome {
			case outcomeCreated:
				cs.Created++
			case outcomeUpdated:
				cs.Updated++
			case outcomeMissing:
				cs.Missing++
			}
		}

		// Only the sale category retires: a game leaving any other feed
		// stays in the catalog forever.
		if cat == site.CategorySale {
			cs.Retired, err = e.retireEndedSales(ctx, listings)
			if err != nil {
				return cs, err
			}
		}

		if err := e.store.ReplaceIndex(ctx, cat, indexEntries(listings)); err != nil {
			return cs, err
		}
	}

	// Fan-out runs for the sale category even when the snapshot is
	// unchanged: a watch added since the last run still has to fire. It
	// reads item state, not index state.
	if cat == site.CategorySale {
		cs.Notified, err = e.fanOutSales(ctx, listings)
		if err != nil {
			return cs, err
		}
	}

	return cs, nil
}

// unchanged is the change heuristic: same length and same first title
// means the feed is treated as unchanged and the expensive per-listing
// pass is skipped. Purely an optimization; a mid-list change it misses is
// picked up on the next run where the heuristic fails.
func unchanged(listings []site.Listing, index []store.IndexEntry) bool {
	if len(listings) != len(index) {
		return false
	}
	if len(listings) == 0 {
		return true
	}
	return listings[0].Title == index[0].Title
}

type upsertOutcome int

const (
	outcomeUnchanged upsertOutcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeMissing
)

func (e *Engine) upsertListing(ctx context.Context, cat site.Category, l site.Listing) (upsertOutcome, error) {
	item, err := e.store.GetItem(ctx, l.Title)
	if err != nil {
		return outcomeUnchanged, err
	}

	if item == nil {
		detail, err := e.site.FetchDetail(ctx, l.URL, cat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s: detail fetch for %q failed, skipping: %v\n", cat, l.Title, err)
			return outcomeMissing, nil
		}
		if detail == nil {
			fmt.Fprintf(os.Stderr, "  %s: detail unavailable for %q, skipping\n", cat, l.Title)
			return outcomeMissing, nil
		}
		if err := e.store.InsertItem(ctx, newItem(cat, l, detail)); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeCreated, nil
	}

	switch cat {
	case site.CategorySale:
		if l.SalePrice == nil {
			return outcomeUnchanged, nil
		}
		if err := e.store.UpdateSalePrice(ctx, l.Title, *l.SalePrice); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeUpdated, nil

	case site.CategoryNewRelease:
		if err := e.store.UpdatePrices(ctx, l.Title, l.Price, l.SalePrice); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeUpdated, nil

	case site.CategoryDemo:
		if item.Demo {
			return outcomeUnchanged, nil
		}
		if err := e.store.SetDemo(ctx, l.Title); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeUpdated, nil

	case site.CategoryDLC:
		// A stored dlc list wins over a fresh scrape: curated detail is
		// not clobbered by the feed.
		if len(item.DLC) != 0 {
			return outcomeUnchanged, nil
		}
		detail, err := e.site.FetchDetail(ctx, l.URL, cat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s: detail fetch for %q failed, skipping: %v\n", cat, l.Title, err)
			return outcomeMissing, nil
		}
		if detail == nil {
			fmt.Fprintf(os.Stderr, "  %s: detail unavailable for %q, skipping\n", cat, l.Title)
			return outcomeMissing, nil
		}
		if len(detail.DLC) == 0 {
			return outcomeUnchanged, nil
		}
		if err := e.store.UpdateDLC(ctx, l.Title, detail.DLC); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeUpdated, nil
	}

	// Coming-soon is purely additive.
	return outcomeUnchanged, nil
}

// retireEndedSales clears sale_price from every catalog item whose sale is
// no longer in the snapshot, and re-arms its watches so the next sale
// notifies again.
func (e *Engine) retireEndedSales(ctx context.Context, listings []site.Listing) (int, error) {
	onSale := make(map[string]bool, len(listings))
	for _, l := range listings {
		onSale[l.Title] = true
	}

	items, err := e.store.ListSaleItems(ctx)
	if err != nil {
		return 0, err
	}

	retired := 0
	for i := range items {
		if onSale[items[i].Title] {
			continue
		}
		if err := e.store.ClearSalePrice(ctx, items[i].Title); err != nil {
			return retired, err
		}
		if err := e.store.ResetWatchNotified(ctx, items[i].Title); err != nil {
			return retired, err
		}
		retired++
	}
	return retired, nil
}

// newItem merges a detail record with the listing's summary fields.
func newItem(cat site.Category, l site.Listing, d *site.Detail) *store.Item {
	item := &store.Item{
		Title:       l.Title,
		URL:         l.URL,
		Description: d.Description,
		Category:    d.Category,
		Image:       l.Image,
		Rating:      d.Rating,
		Publisher:   d.Publisher,
		ReleaseDate: d.ReleaseDate,
		PlayerCount: d.PlayerCount,
		FileSize:    d.FileSize,
		Price:       l.Price,
		SalePrice:   l.SalePrice,
		Demo:        d.Demo,
		OnlinePlay:  d.OnlinePlay,
		CloudSave:   d.CloudSave,
		GalleryURLs: d.Gallery,
		DLC:         d.DLC,
	}

	if item.Image == "" {
		item.Image = d.Image
	}
	if item.Price == nil {
		item.Price = d.Price
	}
	if item.SalePrice == nil {
		item.SalePrice = d.SalePrice
	}
	if cat == site.CategoryDemo {
		item.Demo = true
	}

	return item
}

func indexEntries(listings []site.Listing) []store.IndexEntry {
	entries := make([]store.IndexEntry, len(listings))
	for i, l := range listings {
		entries[i] = store.IndexEntry{
			Title:     l.Title,
			Price:     l.Price,
			SalePrice: l.SalePrice,
		}
	}
	return entries
}
