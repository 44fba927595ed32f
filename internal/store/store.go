package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tonysoukkeo/eshopwatch/pkg/site"
	_ "modernc.org/sqlite"
)

// Item is the canonical catalog record for one game.
type Item struct {
	Title       string    `db:"title" json:"title"`
	URL         string    `db:"url" json:"url"`
	Description string    `db:"description" json:"description"`
	Category    string    `db:"category" json:"category"`
	Image       string    `db:"image" json:"image"`
	Rating      string    `db:"rating" json:"rating"`
	Publisher   string    `db:"publisher" json:"publisher"`
	ReleaseDate string    `db:"release_date" json:"release_date"`
	PlayerCount string    `db:"player_count" json:"player_count"`
	FileSize    string    `db:"file_size" json:"file_size"`
	Price       *float64  `db:"price" json:"price,omitempty"`
	SalePrice   *float64  `db:"sale_price" json:"sale_price,omitempty"`
	Demo        bool      `db:"demo" json:"demo"`
	OnlinePlay  bool      `db:"online_play" json:"online_play"`
	CloudSave   bool      `db:"cloud_save" json:"cloud_save"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	GalleryURLs []string        `json:"gallery" db:"-"`
	DLC         []site.DLCGroup `json:"dlc" db:"-"`
	GalleryJSON string          `json:"-" db:"gallery"`
	DLCJSON     string          `json:"-" db:"dlc"`
}

// IndexEntry is one row of a category's index collection: a lightweight
// pointer into the catalog, replaced wholesale on every successful scan.
type IndexEntry struct {
	Category  string   `db:"category" json:"-"`
	Position  int      `db:"position" json:"-"`
	Title     string   `db:"title" json:"title"`
	Price     *float64 `db:"price" json:"price,omitempty"`
	SalePrice *float64 `db:"sale_price" json:"sale_price,omitempty"`
}

// ListOpts controls catalog browsing.
type ListOpts struct {
	Sale       bool
	Demo       bool
	DLC        bool
	OnlinePlay bool
	CloudSave  bool
	MinPrice   *float64
	MaxPrice   *float64
	Limit      int
	Offset     int
}

// Store is the persistence interface.
type Store interface {
	// Catalog.
	GetItem(ctx context.Context, title string) (*Item, error)
	InsertItem(ctx context.Context, item *Item) error
	UpdateSalePrice(ctx context.Context, title string, salePrice float64) error
	UpdatePrices(ctx context.Context, title string, price, salePrice *float64) error
	SetDemo(ctx context.Context, title string) error
	UpdateDLC(ctx context.Context, title string, dlc []site.DLCGroup) error
	ClearSalePrice(ctx context.Context, title string) error
	ListSaleItems(ctx context.Context) ([]Item, error)
	ListItems(ctx context.Context, opts ListOpts) ([]Item, int, error)
	SearchItems(ctx context.Context, query string, limit int) ([]Item, error)
	FindDuplicateTitles(ctx context.Context) (map[string][]string, error)

	// Index collections.
	ListIndex(ctx context.Context, cat site.Category) ([]IndexEntry, error)
	ReplaceIndex(ctx context.Context, cat site.Category, entries []IndexEntry) error
	ListIndexItems(ctx context.Context, cat site.Category, limit, offset int) ([]Item, int, error)

	// Users and their lists.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	AddToList(ctx context.Context, userID, title, list string) error
	RemoveFromList(ctx context.Context, userID, title, list string) error
	OnList(ctx context.Context, userID, title, list string) (bool, error)
	ListUserGames(ctx context.Context, userID, list string, limit, offset int) ([]Item, int, error)
	ListOwners(ctx context.Context, title string) ([]string, error)
	ListWanters(ctx context.Context, title string) ([]string, error)
	ListWatchers(ctx context.Context, title string) ([]string, error)

	// Sale watches.
	AddWatch(ctx context.Context, userID, title string) error
	RemoveWatch(ctx context.Context, userID, title string) error
	WatchersToNotify(ctx context.Context, title string) ([]User, error)
	MarkWatchNotified(ctx context.Context, userID, title string) error
	ResetWatchNotified(ctx context.Context, title string) error

	// Notifications.
	AppendNotification(ctx context.Context, userID, message, title, kind string) error
	ListNotifications(ctx context.Context, userID string) ([]Notification, int, error)
	MarkNotificationsRead(ctx context.Context, userID string) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetItem(ctx context.Context, title string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item, "SELECT * FROM items WHERE title = ?", title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w", title, err)
	}
	decodeItem(&item)
	return &item, nil
}

func (s *SQLiteStore) InsertItem(ctx context.Context, item *Item) error {
	galleryJSON, _ := json.Marshal(item.GalleryURLs)
	dlcJSON, _ := json.Marshal(item.DLC)
	item.GalleryJSON = string(galleryJSON)
	item.DLCJSON = string(dlcJSON)

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO items (title, url, description, category, gallery, image, rating,
			publisher, release_date, player_count, file_size, price, sale_price,
			demo, online_play, cloud_save, dlc, created_at, updated_at)
		VALUES (:title, :url, :description, :category, :gallery, :image, :rating,
			:publisher, :release_date, :player_count, :file_size, :price, :sale_price,
			:demo, :online_play, :cloud_save, :dlc, :created_at, :updated_at)
	`, item)
	if err != nil {
		return fmt.Errorf("insert item %q: %w", item.Title, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSalePrice(ctx context.Context, title string, salePrice float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET sale_price = ?, updated_at = ? WHERE title = ?",
		salePrice, time.Now().UTC(), title)
	if err != nil {
		return fmt.Errorf("update sale price %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) UpdatePrices(ctx context.Context, title string, price, salePrice *float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET price = ?, sale_price = ?, updated_at = ? WHERE title = ?",
		price, salePrice, time.Now().UTC(), title)
	if err != nil {
		return fmt.Errorf("update prices %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) SetDemo(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET demo = 1, updated_at = ? WHERE title = ?",
		time.Now().UTC(), title)
	if err != nil {
		return fmt.Errorf("set demo %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDLC(ctx context.Context, title string, dlc []site.DLCGroup) error {
	dlcJSON, _ := json.Marshal(dlc)
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET dlc = ?, updated_at = ? WHERE title = ?",
		string(dlcJSON), time.Now().UTC(), title)
	if err != nil {
		return fmt.Errorf("update dlc %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) ClearSalePrice(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET sale_price = NULL, updated_at = ? WHERE title = ?",
		time.Now().UTC(), title)
	if err != nil {
		return fmt.Errorf("clear sale price %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) ListSaleItems(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM items WHERE sale_price IS NOT NULL ORDER BY title")
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	for i := range items {
		decodeItem(&items[i])
	}
	return items, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, opts ListOpts) ([]Item, int, error) {
	where := "WHERE 1=1"
	var args []any

	if opts.Sale {
		where += " AND sale_price IS NOT NULL"
	}
	if opts.Demo {
		where += " AND demo = 1"
	}
	if opts.DLC {
		where += " AND dlc != '[]'"
	}
	if opts.OnlinePlay {
		where += " AND online_play = 1"
	}
	if opts.CloudSave {
		where += " AND cloud_save = 1"
	}
	if opts.MinPrice != nil || opts.MaxPrice != nil {
		min, max := 0.0, 10000.0
		if opts.MinPrice != nil {
			min = *opts.MinPrice
		}
		if opts.MaxPrice != nil {
			max = *opts.MaxPrice
		}
		where += " AND ((sale_price BETWEEN ? AND ?) OR (price BETWEEN ? AND ?))"
		args = append(args, min, max, min, max)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM items "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 42
	}

	query := "SELECT * FROM items " + where + " ORDER BY release_date DESC, title LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	for i := range items {
		decodeItem(&items[i])
	}
	return items, total, nil
}

func (s *SQLiteStore) SearchItems(ctx context.Context, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 6
	}
	pattern := "%" + strings.ReplaceAll(query, "%", "") + "%"

	var items []Item
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM items WHERE title LIKE ? COLLATE NOCASE ORDER BY title LIMIT ?",
		pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search items %q: %w", query, err)
	}
	for i := range items {
		decodeItem(&items[i])
	}
	return items, nil
}

// FindDuplicateTitles reports titles that collide case-insensitively. The
// primary key only enforces exact uniqueness, so "Celeste" and "CELESTE"
// would both survive a scrape that saw the title rendered differently.
func (s *SQLiteStore) FindDuplicateTitles(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT LOWER(title) AS folded, GROUP_CONCAT(title, char(31)) AS titles
		FROM items GROUP BY folded HAVING COUNT(*) >= 2
	`)
	if err != nil {
		return nil, fmt.Errorf("find duplicate titles: %w", err)
	}
	defer rows.Close()

	dupes := make(map[string][]string)
	for rows.Next() {
		var folded, titles string
		if err := rows.Scan(&folded, &titles); err != nil {
			return nil, err
		}
		dupes[folded] = strings.Split(titles, "\x1f")
	}
	return dupes, rows.Err()
}

func (s *SQLiteStore) ListIndex(ctx context.Context, cat site.Category) ([]IndexEntry, error) {
	var entries []IndexEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM category_index WHERE category = ? ORDER BY position", cat)
	if err != nil {
		return nil, fmt.Errorf("list %s index: %w", cat, err)
	}
	return entries, nil
}

// ReplaceIndex swaps a category's index wholesale: delete-all then
// insert-all, deliberately not in one transaction. A concurrent reader can
// observe the gap; the index is a listing cache, not a source of truth.
func (s *SQLiteStore) ReplaceIndex(ctx context.Context, cat site.Category, entries []IndexEntry) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM category_index WHERE category = ?", cat); err != nil {
		return fmt.Errorf("clear %s index: %w", cat, err)
	}

	for i := range entries {
		entries[i].Category = string(cat)
		entries[i].Position = i
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO category_index (category, position, title, price, sale_price)
			VALUES (?, ?, ?, ?, ?)
		`, entries[i].Category, entries[i].Position, entries[i].Title,
			entries[i].Price, entries[i].SalePrice)
		if err != nil {
			return fmt.Errorf("insert %s index entry %q: %w", cat, entries[i].Title, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListIndexItems(ctx context.Context, cat site.Category, limit, offset int) ([]Item, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM category_index WHERE category = ?", cat); err != nil {
		return nil, 0, fmt.Errorf("count %s index: %w", cat, err)
	}

	if limit <= 0 {
		limit = 42
	}

	// Left join so entries not yet promoted into the catalog still list
	// with their summary fields.
	rows, err := s.db.QueryxContext(ctx, `
		SELECT ci.title, ci.price, ci.sale_price, i.image, i.release_date
		FROM category_index ci
		LEFT JOIN items i ON i.title = ci.title
		WHERE ci.category = ?
		ORDER BY ci.position
		LIMIT ? OFFSET ?
	`, cat, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s index items: %w", cat, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it    Item
			image sql.NullString
			rd    sql.NullString
		)
		if err := rows.Scan(&it.Title, &it.Price, &it.SalePrice, &image, &rd); err != nil {
			return nil, 0, err
		}
		it.Image = image.String
		it.ReleaseDate = rd.String
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func decodeItem(item *Item) {
	json.Unmarshal([]byte(item.GalleryJSON), &item.GalleryURLs)
	json.Unmarshal([]byte(item.DLCJSON), &item.DLC)
}
