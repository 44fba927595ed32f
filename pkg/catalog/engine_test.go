package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tonysoukkeo/eshopwatch/internal/store"
	"github.com/tonysoukkeo/eshopwatch/pkg/site"
)

// fakeAdapter serves canned listings and details.
type fakeAdapter struct {
	listings    map[site.Category][]site.Listing
	details     map[string]*site.Detail
	listErr     map[site.Category]error
	listedCats  []site.Category
	detailCalls map[string]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		listings:    make(map[site.Category][]site.Listing),
		details:     make(map[string]*site.Detail),
		listErr:     make(map[site.Category]error),
		detailCalls: make(map[string]int),
	}
}

func (f *fakeAdapter) ListCategory(_ context.Context, cat site.Category) ([]site.Listing, error) {
	f.listedCats = append(f.listedCats, cat)
	if err := f.listErr[cat]; err != nil {
		return nil, err
	}
	return f.listings[cat], nil
}

func (f *fakeAdapter) FetchDetail(_ context.Context, url string, _ site.Category) (*site.Detail, error) {
	f.detailCalls[url]++
	return f.details[url], nil
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fptr(v float64) *float64 { return &v }

func listing(title string, price, salePrice *float64) site.Listing {
	return site.Listing{
		Title:     title,
		URL:       "https://store.example/games/" + title,
		Image:     "https://store.example/box/" + title + ".jpg",
		Price:     price,
		SalePrice: salePrice,
	}
}

func detail() *site.Detail {
	return &site.Detail{
		Description: "A game.",
		Category:    "Action",
		Rating:      "E",
		Publisher:   "Example Soft",
		ReleaseDate: "Mar 3, 2017",
		PlayerCount: "1 player",
		FileSize:    "1.2 GB",
		Gallery:     []string{"https://store.example/shot1.jpg"},
	}
}

func seedUser(t *testing.T, db *store.SQLiteStore, name string, optIn bool) *store.User {
	t.Helper()
	u := &store.User{UserName: name, Email: name + "@example.com", EmailOptIn: optIn}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestReconcileCreatesItems(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	l := listing("Celeste", fptr(19.99), nil)
	adapter.listings[site.CategoryNewRelease] = []site.Listing{l}
	adapter.details[l.URL] = detail()

	engine := NewEngine(db, adapter, nil)
	cs, err := engine.Reconcile(ctx, site.CategoryNewRelease)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cs.Created != 1 {
		t.Fatalf("created = %d, want 1", cs.Created)
	}

	item, err := db.GetItem(ctx, "Celeste")
	if err != nil || item == nil {
		t.Fatalf("get item: %v, item=%v", err, item)
	}
	if item.Publisher != "Example Soft" {
		t.Errorf("publisher = %q, want merged detail field", item.Publisher)
	}
	if item.Price == nil || *item.Price != 19.99 {
		t.Errorf("price = %v, want listing price 19.99", item.Price)
	}
	if item.Image != l.Image {
		t.Errorf("image = %q, want listing image", item.Image)
	}

	index, err := db.ListIndex(ctx, site.CategoryNewRelease)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 1 || index[0].Title != "Celeste" {
		t.Errorf("index = %+v, want [Celeste]", index)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	for _, title := range []string{"Alpha", "Beta"} {
		l := listing(title, fptr(29.99), nil)
		adapter.listings[site.CategoryNewRelease] = append(adapter.listings[site.CategoryNewRelease], l)
		adapter.details[l.URL] = detail()
	}

	engine := NewEngine(db, adapter, nil)
	if _, err := engine.Reconcile(ctx, site.CategoryNewRelease); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	first := snapshotState(t, db, site.CategoryNewRelease)

	if _, err := engine.Reconcile(ctx, site.CategoryNewRelease); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	second := snapshotState(t, db, site.CategoryNewRelease)
	if first != second {
		t.Errorf("state changed across identical runs:\n first: %s\nsecond: %s", first, second)
	}
}

// snapshotState flattens catalog titles/prices and index content for
// content-equality checks (timestamps excluded on purpose).
func snapshotState(t *testing.T, db *store.SQLiteStore, cat site.Category) string {
	t.Helper()
	ctx := context.Background()

	items, _, err := db.ListItems(ctx, store.ListOpts{Limit: 1000})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	index, err := db.ListIndex(ctx, cat)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}

	out := ""
	for _, it := range items {
		out += fmt.Sprintf("item %s p=%v sp=%v demo=%v;", it.Title, deref(it.Price), deref(it.SalePrice), it.Demo)
	}
	for _, e := range index {
		out += fmt.Sprintf("idx %d %s;", e.Position, e.Title)
	}
	return out
}

func deref(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}

func TestDetailUnavailableSkipsListing(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	for i, title := range []string{"One", "Two", "Three"} {
		l := listing(title, fptr(9.99), nil)
		adapter.listings[site.CategoryNewRelease] = append(adapter.listings[site.CategoryNewRelease], l)
		if i != 1 {
			adapter.details[l.URL] = detail()
		}
	}

	engine := NewEngine(db, adapter, nil)
	cs, err := engine.Reconcile(ctx, site.CategoryNewRelease)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cs.Created != 2 || cs.Missing != 1 {
		t.Fatalf("created=%d missing=%d, want 2/1", cs.Created, cs.Missing)
	}

	if item, _ := db.GetItem(ctx, "Two"); item != nil {
		t.Error("partial item created for listing with unavailable detail")
	}
	for _, title := range []string{"One", "Three"} {
		if item, _ := db.GetItem(ctx, title); item == nil {
			t.Errorf("item %s missing", title)
		}
	}
}

func TestIndexReplaceWholesale(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	stale := []store.IndexEntry{{Title: "A"}, {Title: "B"}}
	if err := db.ReplaceIndex(ctx, site.CategoryComingSoon, stale); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	for _, title := range []string{"C", "D", "E"} {
		l := listing(title, nil, nil)
		adapter.listings[site.CategoryComingSoon] = append(adapter.listings[site.CategoryComingSoon], l)
		adapter.details[l.URL] = detail()
	}

	engine := NewEngine(db, adapter, nil)
	if _, err := engine.Reconcile(ctx, site.CategoryComingSoon); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	index, err := db.ListIndex(ctx, site.CategoryComingSoon)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	want := []string{"C", "D", "E"}
	if len(index) != len(want) {
		t.Fatalf("index len = %d, want %d", len(index), len(want))
	}
	for i, entry := range index {
		if entry.Title != want[i] {
			t.Errorf("index[%d] = %s, want %s", i, entry.Title, want[i])
		}
	}
}

func TestChangeHeuristicShortCircuits(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	// Index already mirrors the snapshot: same length, same first title.
	adapter.listings[site.CategoryComingSoon] = []site.Listing{
		listing("Same", nil, nil),
		listing("Unseen", nil, nil),
	}
	seed := []store.IndexEntry{{Title: "Same"}, {Title: "Other"}}
	if err := db.ReplaceIndex(ctx, site.CategoryComingSoon, seed); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	engine := NewEngine(db, adapter, nil)
	cs, err := engine.Reconcile(ctx, site.CategoryComingSoon)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !cs.Skipped {
		t.Fatal("expected heuristic to short-circuit")
	}

	// Steps 4-6 skipped: no item created, index untouched.
	if item, _ := db.GetItem(ctx, "Unseen"); item != nil {
		t.Error("item created despite short-circuit")
	}
	index, _ := db.ListIndex(ctx, site.CategoryComingSoon)
	if len(index) != 2 || index[1].Title != "Other" {
		t.Errorf("index rewritten despite short-circuit: %+v", index)
	}
}

func TestSaleRetirement(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	item := &store.Item{Title: "Hades", Price: fptr(24.99), SalePrice: fptr(19.99)}
	if err := db.InsertItem(ctx, item); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	u := seedUser(t, db, "watcher", false)
	if err := db.AddWatch(ctx, u.ID, "Hades"); err != nil {
		t.Fatalf("add watch: %v", err)
	}
	if err := db.MarkWatchNotified(ctx, u.ID, "Hades"); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	// Seed the sale index so the heuristic sees a change (1 entry vs
	// empty snapshot).
	if err := db.ReplaceIndex(ctx, site.CategorySale, []store.IndexEntry{{Title: "Hades"}}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	engine := NewEngine(db, adapter, nil)
	cs, err := engine.Reconcile(ctx, site.CategorySale)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cs.Retired != 1 {
		t.Fatalf("retired = %d, want 1", cs.Retired)
	}

	got, _ := db.GetItem(ctx, "Hades")
	if got.SalePrice != nil {
		t.Errorf("sale price not cleared: %v", *got.SalePrice)
	}

	watchers, err := db.WatchersToNotify(ctx, "Hades")
	if err != nil {
		t.Fatalf("watchers: %v", err)
	}
	if len(watchers) != 1 {
		t.Error("watch notified flag not reset after sale ended")
	}
}

func TestSaleNotificationDedup(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	mailer := &fakeMailer{}
	ctx := context.Background()

	for _, title := range []string{"Hades", "Celeste"} {
		if err := db.InsertItem(ctx, &store.Item{Title: title, Price: fptr(24.99)}); err != nil {
			t.Fatalf("insert item: %v", err)
		}
	}

	u := seedUser(t, db, "hunter", true)
	for _, title := range []string{"Hades", "Celeste"} {
		if err := db.AddWatch(ctx, u.ID, title); err != nil {
			t.Fatalf("add watch: %v", err)
		}
	}

	adapter.listings[site.CategorySale] = []site.Listing{
		listing("Hades", fptr(24.99), fptr(9.99)),
		listing("Celeste", fptr(19.99), fptr(4.99)),
	}

	engine := NewEngine(db, adapter, mailer)
	cs, err := engine.Reconcile(ctx, site.CategorySale)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cs.Notified != 1 {
		t.Fatalf("notified = %d users, want 1", cs.Notified)
	}

	// One email covering both titles.
	if len(mailer.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(mailer.sent))
	}
	for _, title := range []string{"Hades", "Celeste"} {
		if !strings.Contains(mailer.sent[0].body, title) {
			t.Errorf("email body missing %s", title)
		}
	}

	// Two in-app notifications.
	notes, unread, err := db.ListNotifications(ctx, u.ID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 2 || unread != 2 {
		t.Fatalf("notifications = %d (unread %d), want 2/2", len(notes), unread)
	}

	// Both watches flipped.
	for _, title := range []string{"Hades", "Celeste"} {
		if w, _ := db.WatchersToNotify(ctx, title); len(w) != 0 {
			t.Errorf("watch for %s still un-notified", title)
		}
	}

	// A second identical run sends nothing new.
	if _, err := engine.Reconcile(ctx, site.CategorySale); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Errorf("second run re-sent email (%d total)", len(mailer.sent))
	}
	notes, _, _ = db.ListNotifications(ctx, u.ID)
	if len(notes) != 2 {
		t.Errorf("second run appended notifications (%d total)", len(notes))
	}
}

func TestMailFailureIsNotFatal(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	mailer := &fakeMailer{err: fmt.Errorf("smtp down")}
	ctx := context.Background()

	if err := db.InsertItem(ctx, &store.Item{Title: "Hades"}); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	u := seedUser(t, db, "hunter", true)
	if err := db.AddWatch(ctx, u.ID, "Hades"); err != nil {
		t.Fatalf("add watch: %v", err)
	}

	adapter.listings[site.CategorySale] = []site.Listing{listing("Hades", nil, fptr(9.99))}

	engine := NewEngine(db, adapter, mailer)
	if _, err := engine.Reconcile(ctx, site.CategorySale); err != nil {
		t.Fatalf("reconcile failed on mail error: %v", err)
	}

	// In-app notification is authoritative and still lands.
	notes, _, _ := db.ListNotifications(ctx, u.ID)
	if len(notes) != 1 {
		t.Errorf("notifications = %d, want 1 despite mail failure", len(notes))
	}
}

func TestDLCDoesNotClobberExisting(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	curated := []site.DLCGroup{{Header: "Season Pass", Entries: []site.DLCEntry{{Title: "Pass"}}}}
	if err := db.InsertItem(ctx, &store.Item{Title: "Splatter", DLC: curated}); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	l := listing("Splatter", nil, nil)
	adapter.listings[site.CategoryDLC] = []site.Listing{l}
	scraped := detail()
	scraped.DLC = []site.DLCGroup{{Header: "Scraped"}}
	adapter.details[l.URL] = scraped

	engine := NewEngine(db, adapter, nil)
	if _, err := engine.Reconcile(ctx, site.CategoryDLC); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	item, _ := db.GetItem(ctx, "Splatter")
	if len(item.DLC) != 1 || item.DLC[0].Header != "Season Pass" {
		t.Errorf("existing dlc clobbered: %+v", item.DLC)
	}
	if adapter.detailCalls[l.URL] != 0 {
		t.Errorf("detail fetched %d times for item with curated dlc", adapter.detailCalls[l.URL])
	}
}

func TestDLCFillsEmpty(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	if err := db.InsertItem(ctx, &store.Item{Title: "Splatter"}); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	l := listing("Splatter", nil, nil)
	adapter.listings[site.CategoryDLC] = []site.Listing{l}
	scraped := detail()
	scraped.DLC = []site.DLCGroup{{Header: "Octo Expansion"}}
	adapter.details[l.URL] = scraped

	engine := NewEngine(db, adapter, nil)
	if _, err := engine.Reconcile(ctx, site.CategoryDLC); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	item, _ := db.GetItem(ctx, "Splatter")
	if len(item.DLC) != 1 || item.DLC[0].Header != "Octo Expansion" {
		t.Errorf("dlc not filled: %+v", item.DLC)
	}
}

func TestDemoFlagsExistingItem(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	if err := db.InsertItem(ctx, &store.Item{Title: "Cuphead"}); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	adapter.listings[site.CategoryDemo] = []site.Listing{listing("Cuphead", nil, nil)}

	engine := NewEngine(db, adapter, nil)
	if _, err := engine.Reconcile(ctx, site.CategoryDemo); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	item, _ := db.GetItem(ctx, "Cuphead")
	if !item.Demo {
		t.Error("demo flag not set")
	}
}

func TestRunAllAbortsOnCategoryError(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	ctx := context.Background()

	adapter.listErr[site.CategoryDLC] = fmt.Errorf("connection reset")

	engine := NewEngine(db, adapter, nil)
	sum, err := engine.ReconcileAll(ctx)
	if err == nil {
		t.Fatal("expected error from failing category")
	}

	// Order is sale, dlc, ...; dlc fails; later categories never run.
	want := []site.Category{site.CategorySale, site.CategoryDLC}
	if len(adapter.listedCats) != len(want) {
		t.Fatalf("categories visited = %v, want %v", adapter.listedCats, want)
	}
	for i, cat := range want {
		if adapter.listedCats[i] != cat {
			t.Errorf("visit[%d] = %s, want %s", i, adapter.listedCats[i], cat)
		}
	}
	if len(sum.Categories) != 2 {
		t.Errorf("summary covers %d categories, want 2", len(sum.Categories))
	}
}

func TestFanOutRunsWhenSnapshotUnchanged(t *testing.T) {
	db := newTestStore(t)
	adapter := newFakeAdapter()
	mailer := &fakeMailer{}
	ctx := context.Background()

	// Item already on sale, index already mirrors the snapshot.
	if err := db.InsertItem(ctx, &store.Item{Title: "Hades", SalePrice: fptr(9.99)}); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	adapter.listings[site.CategorySale] = []site.Listing{listing("Hades", nil, fptr(9.99))}
	if err := db.ReplaceIndex(ctx, site.CategorySale, []store.IndexEntry{{Title: "Hades"}}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	// Watch added after the sale was first recorded.
	u := seedUser(t, db, "late", true)
	if err := db.AddWatch(ctx, u.ID, "Hades"); err != nil {
		t.Fatalf("add watch: %v", err)
	}

	engine := NewEngine(db, adapter, mailer)
	cs, err := engine.Reconcile(ctx, site.CategorySale)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !cs.Skipped {
		t.Fatal("expected heuristic short-circuit")
	}
	if cs.Notified != 1 || len(mailer.sent) != 1 {
		t.Errorf("notified=%d mails=%d, want 1/1", cs.Notified, len(mailer.sent))
	}
}

