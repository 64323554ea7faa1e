package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"papervault/pkg/logger"

	_ "github.com/lib/pq"
)

// Connect opens the Postgres pool and pings it, retrying a few times in case of
// temporary DNS/network blips.
func Connect(dsn string, retries int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", retries, err)
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Sugar.Info("Database schema is up to date")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
    lang TEXT NOT NULL DEFAULT 'eng',
    home_folder_id UUID,
    inbox_folder_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS groups (
    id UUID PRIMARY KEY,
    name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS user_groups (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, group_id)
);

CREATE TABLE IF NOT EXISTS user_permissions (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    codename TEXT NOT NULL,
    PRIMARY KEY (user_id, codename)
);

CREATE TABLE IF NOT EXISTS group_permissions (
    group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    codename TEXT NOT NULL,
    PRIMARY KEY (group_id, codename)
);

-- Folders and documents share one tree.
CREATE TABLE IF NOT EXISTS nodes (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    ctype TEXT NOT NULL CHECK (ctype IN ('folder', 'document')),
    parent_id UUID REFERENCES nodes(id) ON DELETE CASCADE,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS nodes_parent_idx ON nodes(parent_id);

CREATE TABLE IF NOT EXISTS documents (
    node_id UUID PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
    lang TEXT NOT NULL DEFAULT 'eng',
    ocr_status TEXT NOT NULL DEFAULT 'unknown'
);

CREATE TABLE IF NOT EXISTS document_versions (
    id UUID PRIMARY KEY,
    document_id UUID NOT NULL REFERENCES documents(node_id) ON DELETE CASCADE,
    number INT NOT NULL,
    file_name TEXT NOT NULL,
    mime_type TEXT NOT NULL,
    size BIGINT NOT NULL DEFAULT 0,
    page_count INT NOT NULL DEFAULT 0,
    text TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (document_id, number)
);

CREATE TABLE IF NOT EXISTS pages (
    id UUID PRIMARY KEY,
    version_id UUID NOT NULL REFERENCES document_versions(id) ON DELETE CASCADE,
    number INT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    lang TEXT NOT NULL DEFAULT 'eng',
    UNIQUE (version_id, number)
);

CREATE TABLE IF NOT EXISTS tags (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    bg_color TEXT NOT NULL DEFAULT '#c41fff',
    fg_color TEXT NOT NULL DEFAULT '#ffffff',
    description TEXT NOT NULL DEFAULT '',
    pinned BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS node_tags (
    node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (node_id, tag_id)
);

CREATE TABLE IF NOT EXISTS kv_items (
    id UUID PRIMARY KEY,
    node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    kv_type TEXT NOT NULL DEFAULT 'text',
    kv_format TEXT NOT NULL DEFAULT '',
    kv_inherited BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (node_id, key)
);

CREATE TABLE IF NOT EXISTS access (
    id UUID PRIMARY KEY,
    node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE,
    group_id UUID REFERENCES groups(id) ON DELETE CASCADE,
    perms TEXT[] NOT NULL,
    inherited BOOLEAN NOT NULL DEFAULT FALSE,
    source_id UUID REFERENCES access(id) ON DELETE CASCADE,
    CHECK ((user_id IS NULL) <> (group_id IS NULL))
);
CREATE INDEX IF NOT EXISTS access_node_idx ON access(node_id);

CREATE TABLE IF NOT EXISTS automates (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    match TEXT NOT NULL,
    matching_algorithm TEXT NOT NULL,
    is_case_sensitive BOOLEAN NOT NULL DEFAULT FALSE,
    dst_folder_id UUID NOT NULL REFERENCES nodes(id),
    tags TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Full-text index of the postgres search engine.
CREATE TABLE IF NOT EXISTS search_index (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    node_type TEXT NOT NULL,
    user_id TEXT NOT NULL,
    readers TEXT[] NOT NULL DEFAULT '{}',
    title TEXT NOT NULL DEFAULT '',
    breadcrumb TEXT NOT NULL DEFAULT '',
    tags JSONB NOT NULL DEFAULT '[]',
    text TEXT NOT NULL DEFAULT '',
    document_id TEXT NOT NULL DEFAULT '',
    version_id TEXT NOT NULL DEFAULT '',
    page_number INT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    tsv TSVECTOR NOT NULL
);
CREATE INDEX IF NOT EXISTS search_index_tsv_idx ON search_index USING GIN (tsv);
CREATE INDEX IF NOT EXISTS search_index_readers_idx ON search_index USING GIN (readers);
CREATE INDEX IF NOT EXISTS search_index_document_idx ON search_index(document_id);
`
