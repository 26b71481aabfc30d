package postgres

// Schema is the base DDL for the PostgreSQL backend. All statements are
// idempotent and applied on every open. Embeddings live in a bytea
// column so the backend works without pgvector; the pgvector migration
// below adds a native vector column when the extension is present.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_profiles (
	entity_id          TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	platform           TEXT NOT NULL DEFAULT 'direct',
	first_seen         TIMESTAMPTZ,
	last_seen          TIMESTAMPTZ,
	total_interactions INTEGER NOT NULL DEFAULT 0,
	affinity_score     DOUBLE PRECISION NOT NULL DEFAULT 50.0,
	average_sentiment  DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	known_facts_count  INTEGER NOT NULL DEFAULT 0,
	top_topics         TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS knowledge_nodes (
	node_id          TEXT PRIMARY KEY,
	entity_id        TEXT,
	node_type        TEXT NOT NULL,
	content          TEXT NOT NULL,
	importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	embedding        BYTEA,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_accessed_at TIMESTAMPTZ,
	access_count     INTEGER NOT NULL DEFAULT 0,
	mention_count    INTEGER NOT NULL DEFAULT 0,
	valid_at         TIMESTAMPTZ,
	invalid_at       TIMESTAMPTZ,
	metadata         TEXT
);

CREATE INDEX IF NOT EXISTS idx_nodes_entity ON knowledge_nodes(entity_id);
CREATE INDEX IF NOT EXISTS idx_nodes_accessed ON knowledge_nodes(last_accessed_at);

CREATE TABLE IF NOT EXISTS knowledge_edges (
	edge_id        TEXT PRIMARY KEY,
	source_node_id TEXT NOT NULL REFERENCES knowledge_nodes(node_id) ON DELETE CASCADE,
	target_node_id TEXT NOT NULL REFERENCES knowledge_nodes(node_id) ON DELETE CASCADE,
	edge_type      TEXT NOT NULL,
	strength       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON knowledge_edges(source_node_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON knowledge_edges(target_node_id);

CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	entity_id     TEXT,
	platform      TEXT NOT NULL DEFAULT 'direct',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	ended_at      TIMESTAMPTZ,
	message_count INTEGER NOT NULL DEFAULT 0,
	sentiment     DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	topics        TEXT,
	summary       TEXT
);

CREATE TABLE IF NOT EXISTS sentiment_history (
	id           BIGSERIAL PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	sentiment    DOUBLE PRECISION NOT NULL,
	trigger_text TEXT,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sentiment_entity ON sentiment_history(entity_id);

CREATE TABLE IF NOT EXISTS consolidation_log (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	source     TEXT NOT NULL DEFAULT 'learned',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// MigrationFTS adds a generated tsvector column over node content plus a
// GIN index. Applied best-effort; full-text search degrades to no
// matches without it.
const MigrationFTS = `
ALTER TABLE knowledge_nodes
	ADD COLUMN IF NOT EXISTS content_tsv tsvector
	GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED;

CREATE INDEX IF NOT EXISTS idx_nodes_tsv ON knowledge_nodes USING GIN (content_tsv);
`

// MigrationPgvector adds the native vector column used for
// nearest-neighbor search. Only applied when the pgvector extension
// loaded successfully. The column is dimensionless so the realized
// embedding dimension never has to be known at migration time.
const MigrationPgvector = `
ALTER TABLE knowledge_nodes ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
