package site

import (
	"context"
)

// Category identifies one of the storefront's browse feeds.
type Category string

const (
	CategorySale       Category = "sale"
	CategoryDLC        Category = "dlc"
	CategoryComingSoon Category = "coming-soon"
	CategoryDemo       Category = "demo"
	CategoryNewRelease Category = "new-release"
)

// Listing is a lightweight scrape result from a category feed,
// before the detail page has been fetched.
type Listing struct {
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Image     string   `json:"image"`
	Price     *float64 `json:"price,omitempty"`
	SalePrice *float64 `json:"sale_price,omitempty"`
}

// Detail holds the full scraped attributes of a single product page.
type Detail struct {
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Rating      string     `json:"rating"`
	Publisher   string     `json:"publisher"`
	ReleaseDate string     `json:"release_date"`
	PlayerCount string     `json:"player_count"`
	FileSize    string     `json:"file_size"`
	Image       string     `json:"image"`
	Gallery     []string   `json:"gallery"`
	DLC         []DLCGroup `json:"dlc"`
	Demo        bool       `json:"demo"`
	OnlinePlay  bool       `json:"online_play"`
	CloudSave   bool       `json:"cloud_save"`
	Price       *float64   `json:"price,omitempty"`
	SalePrice   *float64   `json:"sale_price,omitempty"`
}

// DLCGroup is one add-on section on a product page.
type DLCGroup struct {
	Header  string     `json:"header"`
	Entries []DLCEntry `json:"entries"`
}

// DLCEntry is a single purchasable add-on.
type DLCEntry struct {
	Title       string   `json:"title"`
	Image       string   `json:"image"`
	Description string   `json:"description"`
	Price       *float64 `json:"price,omitempty"`
	SalePrice   *float64 `json:"sale_price,omitempty"`
}

// Adapter is the interface every storefront scraper must implement.
//
// ListCategory returns the full, ordered listing set the site currently
// shows for a category; it keeps paging until the site-reported total is
// reached. FetchDetail returns (nil, nil) when the detail page is
// structurally unusable (age gate, missing fields): the caller skips that
// listing for the run instead of failing the category.
type Adapter interface {
	ListCategory(ctx context.Context, cat Category) ([]Listing, error)
	FetchDetail(ctx context.Context, url string, cat Category) (*Detail, error)
}

// AllCategories returns every known category.
func AllCategories() []Category {
	return []Category{
		CategorySale,
		CategoryDLC,
		CategoryComingSoon,
		CategoryDemo,
		CategoryNewRelease,
	}
}

// ReconcileOrder returns categories in the order a full sync visits them.
func ReconcileOrder() []Category {
	return []Category{
		CategorySale,
		CategoryDLC,
		CategoryComingSoon,
		CategoryDemo,
		CategoryNewRelease,
	}
}
