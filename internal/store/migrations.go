package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    title        TEXT PRIMARY KEY,
    url          TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL DEFAULT '',
    gallery      TEXT NOT NULL DEFAULT '[]',
    image        TEXT NOT NULL DEFAULT '',
    rating       TEXT NOT NULL DEFAULT '',
    publisher    TEXT NOT NULL DEFAULT '',
    release_date TEXT NOT NULL DEFAULT '',
    player_count TEXT NOT NULL DEFAULT '',
    file_size    TEXT NOT NULL DEFAULT '',
    price        REAL,
    sale_price   REAL,
    demo         BOOLEAN NOT NULL DEFAULT 0,
    online_play  BOOLEAN NOT NULL DEFAULT 0,
    cloud_save   BOOLEAN NOT NULL DEFAULT 0,
    dlc          TEXT NOT NULL DEFAULT '[]',
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_sale_price ON items(sale_price);
CREATE INDEX IF NOT EXISTS idx_items_demo ON items(demo);
CREATE INDEX IF NOT EXISTS idx_items_release_date ON items(release_date);

CREATE TABLE IF NOT EXISTS category_index (
    category   TEXT NOT NULL,
    position   INTEGER NOT NULL,
    title      TEXT NOT NULL,
    price      REAL,
    sale_price REAL,
    PRIMARY KEY (category, position)
);

CREATE INDEX IF NOT EXISTS idx_category_index_title ON category_index(title);

CREATE TABLE IF NOT EXISTS users (
    id           TEXT PRIMARY KEY,
    user_name    TEXT NOT NULL UNIQUE,
    email        TEXT NOT NULL DEFAULT '',
    email_opt_in BOOLEAN NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_games (
    user_id  TEXT NOT NULL REFERENCES users(id),
    title    TEXT NOT NULL,
    list     TEXT NOT NULL CHECK (list IN ('owned', 'wishlist')),
    added_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, title, list)
);

CREATE INDEX IF NOT EXISTS idx_user_games_title ON user_games(title);

CREATE TABLE IF NOT EXISTS watches (
    user_id  TEXT NOT NULL REFERENCES users(id),
    title    TEXT NOT NULL,
    notified BOOLEAN NOT NULL DEFAULT 0,
    added_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, title)
);

CREATE INDEX IF NOT EXISTS idx_watches_title ON watches(title);

CREATE TABLE IF NOT EXISTS notifications (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id    TEXT NOT NULL REFERENCES users(id),
    message    TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    read       BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);
`
