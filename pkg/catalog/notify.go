package catalog

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/tonysoukkeo/eshopwatch/internal/store"
	"github.com/tonysoukkeo/eshopwatch/pkg/site"
)

// saleHit is one watched title that just went on sale, priced from the
// authoritative catalog record rather than the raw listing.
type saleHit struct {
	Title     string
	SalePrice float64
}

// fanOutSales notifies watchers of every on-sale listing in the snapshot.
// Hits are grouped per user so someone watching five discounted games gets
// one email and five notification entries, not five emails. Returns the
// number of users notified.
func (e *Engine) fanOutSales(ctx context.Context, listings []site.Listing) (int, error) {
	var order []string
	groups := make(map[string][]saleHit)
	users := make(map[string]store.User)

	for _, l := range listings {
		item, err := e.store.GetItem(ctx, l.Title)
		if err != nil {
			return 0, err
		}
		if item == nil || item.SalePrice == nil {
			continue
		}

		watchers, err := e.store.WatchersToNotify(ctx, l.Title)
		if err != nil {
			return 0, err
		}

		for _, u := range watchers {
			if _, seen := groups[u.ID]; !seen {
				order = append(order, u.ID)
				users[u.ID] = u
			}
			groups[u.ID] = append(groups[u.ID], saleHit{Title: item.Title, SalePrice: *item.SalePrice})
		}
	}

	for _, id := range order {
		u := users[id]
		hits := groups[id]

		// Email is best-effort; the in-app notification is authoritative.
		if e.mailer != nil && u.EmailOptIn && u.Email != "" {
			subject, body := saleEmail(hits)
			if err := e.mailer.Send(ctx, u.Email, subject, body); err != nil {
				fmt.Fprintf(os.Stderr, "  sale mail to %s failed: %v\n", u.Email, err)
			}
		}

		for _, h := range hits {
			msg := fmt.Sprintf("%s is on sale for $%.2f", h.Title, h.SalePrice)
			if err := e.store.AppendNotification(ctx, id, msg, h.Title, store.NotifySale); err != nil {
				return len(order), err
			}
			if err := e.store.MarkWatchNotified(ctx, id, h.Title); err != nil {
				return len(order), err
			}
		}
	}

	return len(order), nil
}

// saleEmail renders one summary email covering all of a user's hits.
func saleEmail(hits []saleHit) (subject, body string) {
	if len(hits) == 1 {
		subject = fmt.Sprintf("%s is on sale", hits[0].Title)
	} else {
		subject = fmt.Sprintf("%d games on your watchlist are on sale", len(hits))
	}

	var b strings.Builder
	b.WriteString("<h4>Games on your watchlist just went on sale</h4>\n<ul>\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "<li>%s &mdash; $%.2f</li>\n", html.EscapeString(h.Title), h.SalePrice)
	}
	b.WriteString("</ul>\n")
	return subject, b.String()
}
