package store

// Schema contains the DDL for the seltrust tables.
const Schema = `
-- One row per (domain, field, selector). Counters only move up, except an
-- explicit admin reset. Confidence is derived on read.
CREATE TABLE IF NOT EXISTS selector_records (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    domain           TEXT NOT NULL,
    field            TEXT NOT NULL CHECK(field IN ('name', 'price', 'thumbnail')),
    selector         TEXT NOT NULL,
    success_count    INTEGER NOT NULL DEFAULT 0 CHECK(success_count >= 0),
    failure_count    INTEGER NOT NULL DEFAULT 0 CHECK(failure_count >= 0),
    discovery_method TEXT NOT NULL DEFAULT 'heuristic'
                     CHECK(discovery_method IN ('heuristic', 'discovered', 'manual')),
    discovery_score  REAL,
    last_seen_at     INTEGER,
    created_at       INTEGER NOT NULL,
    UNIQUE(domain, field, selector)
);
CREATE INDEX IF NOT EXISTS idx_selector_records_domain ON selector_records(domain, field);

-- One row per (domain, category).
CREATE TABLE IF NOT EXISTS category_records (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    domain        TEXT NOT NULL,
    category      TEXT NOT NULL,
    success_count INTEGER NOT NULL DEFAULT 0 CHECK(success_count >= 0),
    failure_count INTEGER NOT NULL DEFAULT 0 CHECK(failure_count >= 0),
    last_seen_at  INTEGER,
    created_at    INTEGER NOT NULL,
    UNIQUE(domain, category)
);
CREATE INDEX IF NOT EXISTS idx_category_records_domain ON category_records(domain);

-- Capture events submitted for analysis. Never updated.
CREATE TABLE IF NOT EXISTS capture_events (
    id             TEXT PRIMARY KEY,
    domain         TEXT NOT NULL,
    raw_payload    TEXT NOT NULL DEFAULT '{}',
    final_payload  TEXT NOT NULL DEFAULT '{}',
    context        TEXT NOT NULL DEFAULT '{}',
    final_category TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capture_events_domain ON capture_events(domain, created_at DESC);
`
