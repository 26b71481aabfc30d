package sqlite

// Schema is the embedded DDL for the SQLite backend. It is idempotent
// (CREATE IF NOT EXISTS throughout) and executed on every open.
//
// The knowledge_nodes_fts virtual table is an external-content FTS5 index
// over knowledge_nodes.content. The three triggers keep it consistent
// with the base table on insert, update, and delete, so callers never
// maintain the index themselves.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_profiles (
	entity_id          TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	platform           TEXT NOT NULL DEFAULT 'direct',
	first_seen         TIMESTAMP,
	last_seen          TIMESTAMP,
	total_interactions INTEGER NOT NULL DEFAULT 0,
	affinity_score     REAL NOT NULL DEFAULT 50.0,
	average_sentiment  REAL NOT NULL DEFAULT 0.0,
	known_facts_count  INTEGER NOT NULL DEFAULT 0,
	top_topics         TEXT,
	created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS knowledge_nodes (
	node_id          TEXT PRIMARY KEY,
	entity_id        TEXT,
	node_type        TEXT NOT NULL,
	content          TEXT NOT NULL,
	importance       REAL NOT NULL DEFAULT 0.5,
	embedding        BLOB,
	created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed_at TIMESTAMP,
	access_count     INTEGER NOT NULL DEFAULT 0,
	mention_count    INTEGER NOT NULL DEFAULT 0,
	valid_at         TIMESTAMP,
	invalid_at       TIMESTAMP,
	metadata         TEXT
);

CREATE INDEX IF NOT EXISTS idx_nodes_entity ON knowledge_nodes(entity_id);
CREATE INDEX IF NOT EXISTS idx_nodes_accessed ON knowledge_nodes(last_accessed_at);

CREATE TABLE IF NOT EXISTS knowledge_edges (
	edge_id        TEXT PRIMARY KEY,
	source_node_id TEXT NOT NULL REFERENCES knowledge_nodes(node_id) ON DELETE CASCADE,
	target_node_id TEXT NOT NULL REFERENCES knowledge_nodes(node_id) ON DELETE CASCADE,
	edge_type      TEXT NOT NULL,
	strength       REAL NOT NULL DEFAULT 0.5,
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON knowledge_edges(source_node_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON knowledge_edges(target_node_id);

CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	entity_id     TEXT,
	platform      TEXT NOT NULL DEFAULT 'direct',
	started_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at      TIMESTAMP,
	message_count INTEGER NOT NULL DEFAULT 0,
	sentiment     REAL NOT NULL DEFAULT 0.0,
	topics        TEXT,
	summary       TEXT
);

CREATE TABLE IF NOT EXISTS sentiment_history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id    TEXT NOT NULL,
	sentiment    REAL NOT NULL,
	trigger_text TEXT,
	recorded_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sentiment_entity ON sentiment_history(entity_id);

CREATE TABLE IF NOT EXISTS consolidation_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	nodes_created INTEGER NOT NULL DEFAULT 0,
	edges_created INTEGER NOT NULL DEFAULT 0,
	nodes_merged  INTEGER NOT NULL DEFAULT 0,
	nodes_pruned  INTEGER NOT NULL DEFAULT 0,
	summary       TEXT
);

CREATE TABLE IF NOT EXISTS procedural_rules (
	id         TEXT PRIMARY KEY,
	rule_type  TEXT NOT NULL DEFAULT 'general',
	content    TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	source     TEXT NOT NULL DEFAULT 'learned',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_nodes_fts USING fts5(
	content,
	content='knowledge_nodes',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS knowledge_nodes_ai AFTER INSERT ON knowledge_nodes BEGIN
	INSERT INTO knowledge_nodes_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_nodes_ad AFTER DELETE ON knowledge_nodes BEGIN
	INSERT INTO knowledge_nodes_fts(knowledge_nodes_fts, rowid, content)
	VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_nodes_au AFTER UPDATE OF content ON knowledge_nodes BEGIN
	INSERT INTO knowledge_nodes_fts(knowledge_nodes_fts, rowid, content)
	VALUES ('delete', old.rowid, old.content);
	INSERT INTO knowledge_nodes_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`
