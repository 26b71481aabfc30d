// Package sqlite implements the storage.Store contract on a single local
// SQLite database file. One open connection serialises all writes; WAL
// mode keeps readers from blocking the writer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/mneme/internal/embedding"
	"github.com/scrypster/mneme/internal/storage"
	"github.com/scrypster/mneme/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time contract check.
var _ storage.Store = (*Store)(nil)

// New creates a SQLite store with WAL self-healing. If the initial open
// fails due to stale WAL files (left behind by a crashed process), it
// verifies no other process holds them and retries once after removing
// the stale -shm/-wal files.
func New(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// open opens the database, configures WAL mode, and creates the schema.
func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows concurrent readers to proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of returning an immediate SQLITE_BUSY error when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB returns the underlying database connection. Used by the backup
// tool for VACUUM INTO.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close flushes the WAL into the main database file and releases
// resources. The TRUNCATE checkpoint removes the -shm and -wal files so
// another process can open the database without stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Knowledge nodes
// ---------------------------------------------------------------------------

// PutNode creates or updates a node (upsert semantics).
func (s *Store) PutNode(ctx context.Context, node *types.KnowledgeNode) error {
	if node == nil {
		return storage.ErrInvalidInput
	}
	if node.NodeID == "" {
		return fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}
	if node.Content == "" {
		return fmt.Errorf("%w: node content is required", storage.ErrInvalidInput)
	}

	var metadataJSON []byte
	if node.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(node.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	node.Importance = types.Clamp01(node.Importance)

	query := `
		INSERT INTO knowledge_nodes (
			node_id, entity_id, node_type, content, importance, embedding,
			created_at, last_accessed_at, access_count, mention_count,
			valid_at, invalid_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			entity_id = excluded.entity_id,
			node_type = excluded.node_type,
			content = excluded.content,
			importance = excluded.importance,
			embedding = excluded.embedding,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			mention_count = excluded.mention_count,
			valid_at = excluded.valid_at,
			invalid_at = excluded.invalid_at,
			metadata = excluded.metadata
	`

	_, err := s.db.ExecContext(ctx, query,
		node.NodeID,
		nullableString(node.EntityID),
		node.NodeType,
		node.Content,
		node.Importance,
		nullableBlob(embedding.Serialize(node.Embedding)),
		node.CreatedAt,
		nullableTime(node.LastAccessedAt),
		node.AccessCount,
		node.MentionCount,
		nullableTime(node.ValidAt),
		nullableTime(node.InvalidAt),
		nullableBytes(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store node: %w", err)
	}

	return nil
}

// nodeColumns is the SELECT column list shared by every node query.
// The order must match scanNode.
const nodeColumns = `
	node_id, entity_id, node_type, content, importance, embedding,
	created_at, last_accessed_at, access_count, mention_count,
	valid_at, invalid_at, metadata
`

// nodeColumnsQualified is the same list with every column prefixed by
// the table name, for joins against tables that share column names
// (the FTS index also has content, edges also have created_at).
const nodeColumnsQualified = `
	knowledge_nodes.node_id, knowledge_nodes.entity_id,
	knowledge_nodes.node_type, knowledge_nodes.content,
	knowledge_nodes.importance, knowledge_nodes.embedding,
	knowledge_nodes.created_at, knowledge_nodes.last_accessed_at,
	knowledge_nodes.access_count, knowledge_nodes.mention_count,
	knowledge_nodes.valid_at, knowledge_nodes.invalid_at,
	knowledge_nodes.metadata
`

// GetNode retrieves a node by ID.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*types.KnowledgeNode, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM knowledge_nodes WHERE node_id = ?", nodeID)

	node, err := scanNodeRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get node: %w", err)
	}
	return node, nil
}

// DeleteNode removes a node. Edges referencing it cascade-delete, and
// the FTS delete trigger keeps the index consistent.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_nodes WHERE node_id = ?", nodeID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ListNodes returns all nodes, entity-filtered when entityID is non-empty.
func (s *Store) ListNodes(ctx context.Context, entityID string) ([]types.KnowledgeNode, error) {
	query := "SELECT " + nodeColumns + " FROM knowledge_nodes"
	var args []interface{}
	if entityID != "" {
		query += " WHERE entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// DeleteAllNodes removes every node, entity-filtered when entityID is
// non-empty. Returns the number of deleted nodes.
func (s *Store) DeleteAllNodes(ctx context.Context, entityID string) (int, error) {
	query := "DELETE FROM knowledge_nodes"
	var args []interface{}
	if entityID != "" {
		query += " WHERE entity_id = ?"
		args = append(args, entityID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to delete nodes: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// TouchNode atomically increments access_count and sets last_accessed_at
// to the current UTC time.
func (s *Store) TouchNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_nodes
		SET access_count = access_count + 1,
		    last_accessed_at = ?
		WHERE node_id = ?
	`, time.Now().UTC(), nodeID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to touch node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateMention records a repeated mention: mention_count increments and
// importance gains 0.05, capped at 1.0.
func (s *Store) UpdateMention(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("%w: node ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_nodes
		SET mention_count = mention_count + 1,
		    importance = MIN(importance + 0.05, 1.0)
		WHERE node_id = ?
	`, nodeID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update mention: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// RecentNodes returns up to limit nodes by last_accessed_at descending.
// Never-accessed nodes sort last (NULLs last).
func (s *Store) RecentNodes(ctx context.Context, entityID string, limit int) ([]types.KnowledgeNode, error) {
	if limit <= 0 {
		limit = 10
	}

	query := "SELECT " + nodeColumns + " FROM knowledge_nodes"
	var args []interface{}
	if entityID != "" {
		query += " WHERE entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY last_accessed_at IS NULL, last_accessed_at DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list recent nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNodeRow scans one node from a row using the nodeColumns order.
func scanNodeRow(row rowScanner) (*types.KnowledgeNode, error) {
	var node types.KnowledgeNode
	var entityID, metadataJSON sql.NullString
	var embeddingBlob []byte
	var lastAccessedAt, validAt, invalidAt sql.NullTime

	err := row.Scan(
		&node.NodeID,
		&entityID,
		&node.NodeType,
		&node.Content,
		&node.Importance,
		&embeddingBlob,
		&node.CreatedAt,
		&lastAccessedAt,
		&node.AccessCount,
		&node.MentionCount,
		&validAt,
		&invalidAt,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if entityID.Valid {
		node.EntityID = entityID.String
	}
	if len(embeddingBlob) > 0 {
		node.Embedding = embedding.Deserialize(embeddingBlob)
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		node.LastAccessedAt = &t
	}
	if validAt.Valid {
		t := validAt.Time
		node.ValidAt = &t
	}
	if invalidAt.Valid {
		t := invalidAt.Time
		node.InvalidAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &node.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &node, nil
}

// scanNodes reads all rows produced with the nodeColumns column order.
func scanNodes(rows *sql.Rows) ([]types.KnowledgeNode, error) {
	var nodes []types.KnowledgeNode
	for rows.Next() {
		node, err := scanNodeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return nodes, nil
}

// ---------------------------------------------------------------------------
// Nullable helpers
// ---------------------------------------------------------------------------

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableBlob passes a byte slice through, mapping empty to NULL.
func nullableBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// ---------------------------------------------------------------------------
// WAL self-healing
// ---------------------------------------------------------------------------

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths and file: URIs. Returns empty string for in-memory
// databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused
// by stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database
// path AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no files are open — that means stale.
		return true
	}

	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
