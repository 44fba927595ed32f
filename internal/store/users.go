package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Names of the per-user game lists.
const (
	ListOwned    = "owned"
	ListWishlist = "wishlist"
)

// NotifySale marks a notification produced by the sale fan-out.
const NotifySale = "SALE"

// User is an account holding game lists and a notification batch.
type User struct {
	ID         string    `db:"id" json:"id"`
	UserName   string    `db:"user_name" json:"user_name"`
	Email      string    `db:"email" json:"email"`
	EmailOptIn bool      `db:"email_opt_in" json:"email_opt_in"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Notification is one entry of a user's in-app notification batch.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"-"`
	Message   string    `db:"message" json:"message"`
	Title     string    `db:"title" json:"title"`
	Kind      string    `db:"kind" json:"kind"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, user_name, email, email_opt_in, created_at)
		VALUES (:id, :user_name, :email, :email_opt_in, :created_at)
	`, u)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UserName, err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *SQLiteStore) AddToList(ctx context.Context, userID, title, list string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_games (user_id, title, list, added_at)
		VALUES (?, ?, ?, ?)
	`, userID, title, list, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add %q to %s list: %w", title, list, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveFromList(ctx context.Context, userID, title, list string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM user_games WHERE user_id = ? AND title = ? AND list = ?",
		userID, title, list)
	if err != nil {
		return fmt.Errorf("remove %q from %s list: %w", title, list, err)
	}
	return nil
}

func (s *SQLiteStore) OnList(ctx context.Context, userID, title, list string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM user_games WHERE user_id = ? AND title = ? AND list = ?",
		userID, title, list)
	if err != nil {
		return false, fmt.Errorf("check %s list: %w", list, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListUserGames(ctx context.Context, userID, list string, limit, offset int) ([]Item, int, error) {
	var total int
	err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM user_games WHERE user_id = ? AND list = ?", userID, list)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s list: %w", list, err)
	}

	if limit <= 0 {
		limit = 12
	}

	var items []Item
	err = s.db.SelectContext(ctx, &items, `
		SELECT i.* FROM user_games ug
		JOIN items i ON i.title = ug.title
		WHERE ug.user_id = ? AND ug.list = ?
		ORDER BY ug.added_at
		LIMIT ? OFFSET ?
	`, userID, list, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s games: %w", list, err)
	}
	for i := range items {
		decodeItem(&items[i])
	}
	return items, total, nil
}

// ListOwners, ListWanters and ListWatchers are the item-side reverse
// indexes: who owns, wants, or watches a given title.

func (s *SQLiteStore) ListOwners(ctx context.Context, title string) ([]string, error) {
	return s.listUsersFor(ctx,
		"SELECT user_id FROM user_games WHERE title = ? AND list = 'owned'", title)
}

func (s *SQLiteStore) ListWanters(ctx context.Context, title string) ([]string, error) {
	return s.listUsersFor(ctx,
		"SELECT user_id FROM user_games WHERE title = ? AND list = 'wishlist'", title)
}

func (s *SQLiteStore) ListWatchers(ctx context.Context, title string) ([]string, error) {
	return s.listUsersFor(ctx, "SELECT user_id FROM watches WHERE title = ?", title)
}

func (s *SQLiteStore) listUsersFor(ctx context.Context, query, title string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, title); err != nil {
		return nil, fmt.Errorf("list users for %q: %w", title, err)
	}
	return ids, nil
}

func (s *SQLiteStore) AddWatch(ctx context.Context, userID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO watches (user_id, title, notified, added_at)
		VALUES (?, ?, 0, ?)
	`, userID, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add watch %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveWatch(ctx context.Context, userID, title string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM watches WHERE user_id = ? AND title = ?", userID, title)
	if err != nil {
		return fmt.Errorf("remove watch %q: %w", title, err)
	}
	return nil
}

// WatchersToNotify returns users watching a title who have not yet been
// told about the current sale.
func (s *SQLiteStore) WatchersToNotify(ctx context.Context, title string) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users, `
		SELECT u.* FROM watches w
		JOIN users u ON u.id = w.user_id
		WHERE w.title = ? AND w.notified = 0
		ORDER BY u.created_at
	`, title)
	if err != nil {
		return nil, fmt.Errorf("watchers to notify %q: %w", title, err)
	}
	return users, nil
}

func (s *SQLiteStore) MarkWatchNotified(ctx context.Context, userID, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE watches SET notified = 1 WHERE user_id = ? AND title = ?",
		userID, title)
	if err != nil {
		return fmt.Errorf("mark watch notified %q: %w", title, err)
	}
	return nil
}

// ResetWatchNotified flips every watch of a title back to un-notified.
// Called when the title leaves sale so the next sale notifies again.
func (s *SQLiteStore) ResetWatchNotified(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE watches SET notified = 0 WHERE title = ?", title)
	if err != nil {
		return fmt.Errorf("reset watch notified %q: %w", title, err)
	}
	return nil
}

func (s *SQLiteStore) AppendNotification(ctx context.Context, userID, message, title, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, message, title, kind, read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, userID, message, title, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append notification for %s: %w", userID, err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first, plus the
// unread count.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string) ([]Notification, int, error) {
	var unread int
	err := s.db.GetContext(ctx, &unread,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0", userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	var notes []Notification
	err = s.db.SelectContext(ctx, &notes,
		"SELECT * FROM notifications WHERE user_id = ? ORDER BY id DESC", userID)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return notes, unread, nil
}

func (s *SQLiteStore) MarkNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
