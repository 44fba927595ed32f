package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// pageSize matches the storefront's own "load more" increment.
const pageSize = 42

// Storefront scrapes the storefront's search API and product pages.
type Storefront struct {
	client  *resty.Client
	baseURL string
	deals   *DealsFeed // optional sale-listing source
}

// NewStorefront creates a storefront adapter rooted at baseURL.
func NewStorefront(baseURL string, timeout time.Duration, deals *DealsFeed) *Storefront {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "eshopwatch/1.0")

	return &Storefront{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		deals:   deals,
	}
}

// categoryFilter maps a category to the search API's filter parameter.
func categoryFilter(cat Category) string {
	switch cat {
	case CategoryNewRelease:
		return "New releases"
	case CategoryComingSoon:
		return "Coming soon"
	case CategoryDemo:
		return "Demo available"
	case CategoryDLC:
		return "DLC available"
	case CategorySale:
		return "Deals"
	}
	return string(cat)
}

type searchPage struct {
	Total int          `json:"total"`
	Games []searchGame `json:"games"`
}

type searchGame struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	BoxArt string `json:"boxArt"`
	Price  struct {
		MSRP      string `json:"msrp"`
		SalePrice string `json:"salePrice"`
	} `json:"price"`
}

// ListCategory pages through the search API until the reported total is
// reached, then returns the materialized listing set in site order.
func (s *Storefront) ListCategory(ctx context.Context, cat Category) ([]Listing, error) {
	if cat == CategorySale && s.deals != nil {
		return s.deals.Fetch(ctx)
	}

	var listings []Listing
	total := -1

	for offset := 0; total < 0 || offset < total; offset += pageSize {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParam("filter", categoryFilter(cat)).
			SetQueryParam("offset", fmt.Sprintf("%d", offset)).
			SetQueryParam("limit", fmt.Sprintf("%d", pageSize)).
			Get(s.baseURL + "/api/games")
		if err != nil {
			return nil, fmt.Errorf("fetch %s listings: %w", cat, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%s listings status %d", cat, resp.StatusCode())
		}

		var page searchPage
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("decode %s listings: %w", cat, err)
		}

		total = page.Total
		if len(page.Games) == 0 {
			break
		}

		for _, g := range page.Games {
			l := Listing{
				Title: CleanTitle(g.Title),
				URL:   g.URL,
				Image: g.BoxArt,
			}
			l.Price = ParsePrice(g.Price.MSRP)
			l.SalePrice = ParsePrice(g.Price.SalePrice)
			listings = append(listings, l)
		}
	}

	return listings, nil
}

// FetchDetail scrapes a single product page. A structurally unusable page
// (missing release date, persistent age gate) yields (nil, nil): the
// listing is skipped for this run and retried on the next one.
func (s *Storefront) FetchDetail(ctx context.Context, url string, cat Category) (*Detail, error) {
	doc, err := s.fetchDocument(ctx, url)
	if err != nil {
		return nil, err
	}

	// Age-gated pages come back with a verification form instead of game
	// info. One retry with the bypass parameter; give up for the run if
	// the gate is still there.
	if doc.Find("#age-verification-form").Length() > 0 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		doc, err = s.fetchDocument(ctx, url+sep+"age_verified=1")
		if err != nil {
			return nil, err
		}
		if doc.Find("#age-verification-form").Length() > 0 {
			return nil, nil
		}
	}

	releaseDate := strings.TrimSpace(doc.Find(".game-info-item.release-date dd").Text())
	if releaseDate == "" {
		// Not a product page we understand.
		fmt.Fprintf(os.Stderr, "site: no release date on %s, skipping\n", url)
		return nil, nil
	}

	d := &Detail{
		ReleaseDate: releaseDate,
		Rating:      textOr(doc, ".game-info-item.esrb-rating dd img", "src"),
		Publisher:   trimmedText(doc, ".game-info-item.publisher dd"),
		PlayerCount: trimmedText(doc, ".game-info-item.players dd"),
		FileSize:    trimmedText(doc, ".game-info-item.file-size dd"),
		Category:    collapseSpaces(trimmedText(doc, ".game-info-item.genre dd")),
		Image:       textOr(doc, ".boxart-container img", "src"),
	}

	var paragraphs []string
	doc.Find(".bullet-list p").Each(func(_ int, sel *goquery.Selection) {
		paragraphs = append(paragraphs, sel.Text())
	})
	d.Description = strings.Join(paragraphs, "\n\n")
	if d.Description == "" {
		d.Description = "NA"
	}

	doc.Find(".product-gallery img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			d.Gallery = append(d.Gallery, absoluteURL(s.baseURL, src))
		}
	})

	d.Demo = doc.Find("#demo-download").Length() > 0

	doc.Find(".services-supported a").Each(func(_ int, sel *goquery.Selection) {
		switch sel.AttrOr("aria-label", "") {
		case "online-play":
			d.OnlinePlay = true
		case "save-data-cloud":
			d.CloudSave = true
		}
	})

	doc.Find(".dlc-area.dlc-purchase").Each(func(_ int, area *goquery.Selection) {
		group := DLCGroup{Header: strings.TrimSpace(area.Find("h2").First().Text())}
		area.Find(".product-tile").Each(func(_ int, tile *goquery.Selection) {
			entry := DLCEntry{
				Title:       strings.TrimSpace(tile.Find(".title").Text()),
				Image:       tile.Find("img").AttrOr("src", ""),
				Description: strings.TrimSpace(tile.Find(".description").Text()),
				Price:       ParsePrice(tile.Find(".msrp").Text()),
				SalePrice:   ParsePrice(tile.Find(".sale-price").Text()),
			}
			group.Entries = append(group.Entries, entry)
		})
		d.DLC = append(d.DLC, group)
	})

	if sale := ParsePrice(doc.Find(".price .sale-price").Text()); sale != nil {
		d.SalePrice = sale
		d.Price = ParsePrice(doc.Find(".price .strike").Text())
	} else {
		d.Price = ParsePrice(doc.Find(".price .msrp").Text())
	}

	return d, nil
}

func (s *Storefront) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch detail %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("detail %s status %d", url, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse detail %s: %w", url, err)
	}
	return doc, nil
}

func trimmedText(doc *goquery.Document, selector string) string {
	t := strings.TrimSpace(doc.Find(selector).First().Text())
	if t == "" {
		return "NA"
	}
	return t
}

func textOr(doc *goquery.Document, selector, attr string) string {
	v, ok := doc.Find(selector).First().Attr(attr)
	if !ok || v == "" {
		return "NA"
	}
	return v
}

func absoluteURL(base, src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return base + src
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
