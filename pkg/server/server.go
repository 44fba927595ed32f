package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tonysoukkeo/eshopwatch/internal/store"
	"github.com/tonysoukkeo/eshopwatch/pkg/catalog"
	"github.com/tonysoukkeo/eshopwatch/pkg/site"
)

const pageSize = 42

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	engine *catalog.Engine
	port   int
}

// New creates a new HTTP server.
func New(s store.Store, engine *catalog.Engine, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:  s,
		engine: engine,
		port:   port,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/sync", s.handleSync)
	mux.HandleFunc("GET /api/v1/categories/{category}", s.handleCategory)
	mux.HandleFunc("GET /api/v1/items", s.handleItems)
	mux.HandleFunc("GET /api/v1/items/detail", s.handleItemDetail)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/admin/duplicates", s.handleDuplicates)

	mux.HandleFunc("POST /api/v1/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/v1/users/{id}/collection", s.listHandler(store.ListOwned))
	mux.HandleFunc("GET /api/v1/users/{id}/wishlist", s.listHandler(store.ListWishlist))
	mux.HandleFunc("POST /api/v1/users/{id}/collection", s.handleAddToCollection)
	mux.HandleFunc("DELETE /api/v1/users/{id}/collection", s.handleRemoveFromCollection)
	mux.HandleFunc("POST /api/v1/users/{id}/wishlist", s.handleAddToWishlist)
	mux.HandleFunc("DELETE /api/v1/users/{id}/wishlist", s.handleRemoveFromWishlist)
	mux.HandleFunc("POST /api/v1/users/{id}/watches", s.handleAddWatch)
	mux.HandleFunc("DELETE /api/v1/users/{id}/watches", s.handleRemoveWatch)
	mux.HandleFunc("GET /api/v1/users/{id}/notifications", s.handleNotifications)
	mux.HandleFunc("POST /api/v1/users/{id}/notifications/read", s.handleNotificationsRead)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("eshopwatch server listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.ReconcileAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"summary": summary.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary.String()})
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	cat := site.Category(r.PathValue("category"))
	page := pageParam(r)

	var (
		items []store.Item
		total int
		err   error
	)
	switch cat {
	case site.CategoryNewRelease, site.CategoryComingSoon:
		items, total, err = s.store.ListIndexItems(r.Context(), cat, pageSize, (page-1)*pageSize)
	case site.CategorySale:
		// Sale listing reads the catalog, where sale_price is
		// authoritative, not the index cache.
		items, total, err = s.store.ListItems(r.Context(), store.ListOpts{
			Sale:   true,
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
	default:
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":     items,
		"count":    len(items),
		"loadMore": page*pageSize < total,
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pageParam(r)

	opts := store.ListOpts{
		Sale:       q.Get("sale") == "true",
		Demo:       q.Get("demo") == "true",
		DLC:        q.Get("dlc") == "true",
		OnlinePlay: q.Get("online_play") == "true",
		CloudSave:  q.Get("cloud_save") == "true",
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}
	if v, err := strconv.ParseFloat(q.Get("min_price"), 64); err == nil {
		opts.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(q.Get("max_price"), 64); err == nil {
		opts.MaxPrice = &v
	}

	items, total, err := s.store.ListItems(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":     items,
		"count":    len(items),
		"loadMore": page*pageSize < total,
	})
}

func (s *Server) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	item, err := s.store.GetItem(r.Context(), title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	items, err := s.store.SearchItems(r.Context(), query, 6)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type result struct {
		Title string `json:"title"`
		Image string `json:"image"`
	}
	results := make([]result, 0, len(items))
	for _, it := range items {
		results = append(results, result{Title: it.Title, Image: it.Image})
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	dupes, err := s.store.FindDuplicateTitles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": dupes, "count": len(dupes)})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u store.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(u.UserName) < 3 {
		writeError(w, http.StatusUnprocessableEntity, "username must be at least 3 characters")
		return
	}

	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) listHandler(list string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.user(w, r)
		if !ok {
			return
		}
		page := pageParam(r)
		const perPage = 12

		items, total, err := s.store.ListUserGames(r.Context(), user.ID, list, perPage, (page-1)*perPage)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":     items,
			"count":    len(items),
			"loadMore": page*perPage < total,
		})
	}
}

func (s *Server) handleAddToCollection(w http.ResponseWriter, r *http.Request) {
	user, item, ok := s.userAndItem(w, r)
	if !ok {
		return
	}

	owned, err := s.store.OnList(r.Context(), user.ID, item.Title, store.ListOwned)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if owned {
		writeError(w, http.StatusUnprocessableEntity, "game is already in your collection")
		return
	}

	if err := s.store.AddToList(r.Context(), user.ID, item.Title, store.ListOwned); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Owning a game supersedes wishing for it.
	if err := s.store.RemoveFromList(r.Context(), user.ID, item.Title, store.ListWishlist); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": fmt.Sprintf("%s has been added to your collection", item.Title),
	})
}

func (s *Server) handleRemoveFromCollection(w http.ResponseWriter, r *http.Request) {
	s.removeFromList(w, r, store.ListOwned, "game does not exist in collection")
}

func (s *Server) handleAddToWishlist(w http.ResponseWriter, r *http.Request) {
	user, item, ok := s.userAndItem(w, r)
	if !ok {
		return
	}

	wished, err := s.store.OnList(r.Context(), user.ID, item.Title, store.ListWishlist)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wished {
		writeError(w, http.StatusUnprocessableEntity, "game is already in wishlist")
		return
	}

	owned, err := s.store.OnList(r.Context(), user.ID, item.Title, store.ListOwned)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if owned {
		writeError(w, http.StatusUnprocessableEntity, "you already own this game")
		return
	}

	if err := s.store.AddToList(r.Context(), user.ID, item.Title, store.ListWishlist); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "game added to wishlist"})
}

func (s *Server) handleRemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	s.removeFromList(w, r, store.ListWishlist, "game does not exist in your wishlist")
}

func (s *Server) removeFromList(w http.ResponseWriter, r *http.Request, list, missingMsg string) {
	user, item, ok := s.userAndItem(w, r)
	if !ok {
		return
	}

	onList, err := s.store.OnList(r.Context(), user.ID, item.Title, list)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !onList {
		writeError(w, http.StatusUnprocessableEntity, missingMsg)
		return
	}

	if err := s.store.RemoveFromList(r.Context(), user.ID, item.Title, list); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "game removed"})
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	user, item, ok := s.userAndItem(w, r)
	if !ok {
		return
	}
	if err := s.store.AddWatch(r.Context(), user.ID, item.Title); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": fmt.Sprintf("you will be notified when %s goes on sale", item.Title),
	})
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	user, item, ok := s.userAndItem(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveWatch(r.Context(), user.ID, item.Title); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "watch removed"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := s.user(w, r)
	if !ok {
		return
	}
	notes, unread, err := s.store.ListNotifications(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   notes,
		"unread": unread,
	})
}

func (s *Server) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	user, ok := s.user(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkNotificationsRead(r.Context(), user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "notifications marked read"})
}

// user resolves the {id} path segment. Identity is presumed validated
// upstream; this layer only checks the account exists.
func (s *Server) user(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	user, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	return user, true
}

func (s *Server) userAndItem(w http.ResponseWriter, r *http.Request) (*store.User, *store.Item, bool) {
	user, ok := s.user(w, r)
	if !ok {
		return nil, nil, false
	}

	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return nil, nil, false
	}

	item, err := s.store.GetItem(r.Context(), title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "game not found")
		return nil, nil, false
	}
	return user, item, true
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
