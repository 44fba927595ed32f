package site

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/mmcdole/gofeed"
)

// DealsFeed reads the storefront's deals RSS feed as the listing source
// for the sale category. Polling the feed is much cheaper than paging the
// search API, and the feed carries the same title ordering.
type DealsFeed struct {
	client *http.Client
	parser *gofeed.Parser
	url    string
}

// NewDealsFeed creates a deals feed reader.
func NewDealsFeed(url string) *DealsFeed {
	return &DealsFeed{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		url:    url,
	}
}

// dealTitleRE splits "Some Game — $13.99 (was $19.99)" style feed titles.
var dealTitleRE = regexp.MustCompile(`^(.*?)\s*[—–-]\s*\$([0-9.]+)\s*\(was \$([0-9.]+)\)\s*$`)

// Fetch returns the feed's entries as sale listings, in feed order.
func (d *DealsFeed) Fetch(ctx context.Context) ([]Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create deals feed request: %w", err)
	}
	req.Header.Set("User-Agent", "eshopwatch/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch deals feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deals feed status %d", resp.StatusCode)
	}

	parsed, err := d.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse deals feed: %w", err)
	}

	var listings []Listing
	for _, entry := range parsed.Items {
		l := Listing{
			Title: CleanTitle(entry.Title),
			URL:   entry.Link,
		}
		if entry.Image != nil {
			l.Image = entry.Image.URL
		}
		if m := dealTitleRE.FindStringSubmatch(entry.Title); m != nil {
			l.Title = CleanTitle(m[1])
			l.SalePrice = ParsePrice(m[2])
			l.Price = ParsePrice(m[3])
		}
		listings = append(listings, l)
	}
	return listings, nil
}
