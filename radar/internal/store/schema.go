package store

// Schema is the complete painradar schema. Idempotent: safe to apply at
// every startup. Timestamps are milliseconds since epoch.
const Schema = `
-- Harvested content. Identity (source, external_id); append-only.
CREATE TABLE IF NOT EXISTS content_items (
    id            TEXT PRIMARY KEY,
    source        TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    parent_id     TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    fetched_at    INTEGER NOT NULL,
    content_hash  TEXT NOT NULL DEFAULT '',
    processed     INTEGER NOT NULL DEFAULT 0,
    UNIQUE(source, external_id)
);
CREATE INDEX IF NOT EXISTS idx_content_items_processed ON content_items(processed, fetched_at);
CREATE INDEX IF NOT EXISTS idx_content_items_hash ON content_items(content_hash);

-- Extracted signals. Immutable; re-extraction inserts a new row.
CREATE TABLE IF NOT EXISTS signals (
    id               TEXT PRIMARY KEY,
    content_item_id  TEXT NOT NULL REFERENCES content_items(id),
    run_id           TEXT NOT NULL,
    signal_type      TEXT NOT NULL,
    quote            TEXT NOT NULL,
    extraction_state TEXT NOT NULL,
    extracted_at     INTEGER NOT NULL,
    model_version    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_signals_item ON signals(content_item_id);
CREATE INDEX IF NOT EXISTS idx_signals_run ON signals(run_id);
CREATE INDEX IF NOT EXISTS idx_signals_time ON signals(extracted_at);

-- Corroborating citations: near-duplicate items linked to the signal that
-- already covers them, so every source stays citable without double counting.
CREATE TABLE IF NOT EXISTS signal_links (
    signal_id       TEXT NOT NULL REFERENCES signals(id),
    content_item_id TEXT NOT NULL REFERENCES content_items(id),
    created_at      INTEGER NOT NULL,
    PRIMARY KEY (signal_id, content_item_id)
);

-- Window-scoped clusters, frozen once their run completes.
CREATE TABLE IF NOT EXISTS clusters (
    id                TEXT PRIMARY KEY,
    run_id            TEXT NOT NULL,
    window_start      INTEGER NOT NULL,
    window_end        INTEGER NOT NULL,
    title             TEXT NOT NULL DEFAULT '',
    summary           TEXT NOT NULL DEFAULT '',
    evidence_strength REAL NOT NULL DEFAULT 0,
    signal_count      INTEGER NOT NULL DEFAULT 0,
    thread_count      INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clusters_run ON clusters(run_id);
CREATE INDEX IF NOT EXISTS idx_clusters_window ON clusters(window_start, window_end);

CREATE TABLE IF NOT EXISTS cluster_members (
    cluster_id TEXT NOT NULL REFERENCES clusters(id),
    signal_id  TEXT NOT NULL REFERENCES signals(id),
    rank       INTEGER NOT NULL,
    display    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (cluster_id, signal_id)
);

-- Run ledger: one immutable record per pipeline execution.
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    started_at    INTEGER NOT NULL,
    completed_at  INTEGER,
    config_json   TEXT NOT NULL DEFAULT '{}',
    fetched       INTEGER NOT NULL DEFAULT 0,
    deduped       INTEGER NOT NULL DEFAULT 0,
    extracted     INTEGER NOT NULL DEFAULT 0,
    clustered     INTEGER NOT NULL DEFAULT 0,
    alerts_raised INTEGER NOT NULL DEFAULT 0,
    failed_items  INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'running',
    error         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Watchlist rules.
CREATE TABLE IF NOT EXISTS watchlist_rules (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    keywords             TEXT NOT NULL DEFAULT '[]',
    scope_sources        TEXT NOT NULL DEFAULT '[]',
    recurrence_threshold INTEGER NOT NULL DEFAULT 0,
    active               INTEGER NOT NULL DEFAULT 1,
    created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_active ON watchlist_rules(active);

-- Alert events. The UNIQUE index is the idempotency invariant:
-- one (rule, entity) pair fires at most once.
CREATE TABLE IF NOT EXISTS alert_events (
    id             TEXT PRIMARY KEY,
    rule_id        TEXT NOT NULL REFERENCES watchlist_rules(id),
    matched_entity TEXT NOT NULL,
    entity_kind    TEXT NOT NULL,
    keyword        TEXT NOT NULL DEFAULT '',
    run_id         TEXT NOT NULL DEFAULT '',
    matched_at     INTEGER NOT NULL,
    UNIQUE(rule_id, matched_entity)
);
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alert_events(rule_id, matched_at DESC);
`
