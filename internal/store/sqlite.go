package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	engerr "github.com/alakhanpal23/codebase-qa/internal/errors"
)

const schemaVersion = 1

// SQLiteStore implements MetadataStore on modernc.org/sqlite (pure Go, no
// CGO). A single writer connection with WAL mode handles the engine's
// concurrency; SQLite's busy timeout absorbs contention.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path. An empty
// path opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to create metadata directory", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to open metadata database", err)
	}

	// Single writer prevents lock contention within the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		root_path   TEXT NOT NULL,
		status      TEXT NOT NULL,
		file_count  INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		indexed_at  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS files (
		id           TEXT PRIMARY KEY,
		repo_id      TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		path         TEXT NOT NULL,
		size         INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL DEFAULT 0,
		UNIQUE(repo_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_files_repo ON files(repo_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		repo_id      TEXT NOT NULL,
		file_id      TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		file_path    TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		text         TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		strategy     TEXT NOT NULL DEFAULT '',
		truncated    INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_repo ON chunks(repo_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(repo_id, content_hash);

	-- Deletion tombstones: a row here means removal started but has not
	-- finished. Recovery completes these at open.
	CREATE TABLE IF NOT EXISTS deletions (
		repo_id    TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to initialize schema", err)
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to record schema version", err)
	}
	return nil
}

// SaveRepository inserts or replaces a repository row.
func (s *SQLiteStore) SaveRepository(ctx context.Context, repo *Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, root_path, status, file_count, chunk_count, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			status = excluded.status,
			file_count = excluded.file_count,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`, repo.ID, repo.Name, repo.RootPath, string(repo.Status),
		repo.FileCount, repo.ChunkCount, toEpoch(repo.CreatedAt), toEpoch(repo.IndexedAt))
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to save repository", err)
	}
	return nil
}

// GetRepository returns a repository by ID, or nil when unknown.
func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, status, file_count, chunk_count, created_at, indexed_at
		FROM repositories WHERE id = ?
	`, id)
	repo, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to load repository", err)
	}
	return repo, nil
}

// ListRepositories returns all repositories ordered by ID.
func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, root_path, status, file_count, chunk_count, created_at, indexed_at
		FROM repositories ORDER BY id
	`)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to list repositories", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to scan repository", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*Repository, error) {
	var repo Repository
	var status string
	var createdAt, indexedAt int64
	if err := row.Scan(&repo.ID, &repo.Name, &repo.RootPath, &status,
		&repo.FileCount, &repo.ChunkCount, &createdAt, &indexedAt); err != nil {
		return nil, err
	}
	repo.Status = RepoStatus(status)
	repo.CreatedAt = fromEpoch(createdAt)
	repo.IndexedAt = fromEpoch(indexedAt)
	return &repo, nil
}

// SetRepositoryStatus transitions a repository's lifecycle state.
func (s *SQLiteStore) SetRepositoryStatus(ctx context.Context, id string, status RepoStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to update repository status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engerr.New(engerr.ErrCodeInvalidInput, fmt.Sprintf("unknown repository %q", id), nil)
	}
	return nil
}

// UpdateRepositoryStats sets file and chunk counts and stamps indexed_at.
func (s *SQLiteStore) UpdateRepositoryStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?
	`, fileCount, chunkCount, time.Now().Unix(), id)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to update repository stats", err)
	}
	return nil
}

// DeleteRepository removes the repository row and, through cascades, all its
// files and chunks, in one transaction.
func (s *SQLiteStore) DeleteRepository(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Chunks reference files, not repositories, so clear them by repo first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE repo_id = ?`, id); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE repo_id = ?`, id); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to delete files", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to delete repository", err)
	}

	if err := tx.Commit(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to commit deletion", err)
	}
	return nil
}

// SaveFiles inserts or replaces file records in one transaction.
func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*FileRecord) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, repo_id, path, size, content_hash, language, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			content_hash = excluded.content_hash,
			language = excluded.language,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to prepare file insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.RepoID, f.Path, f.Size,
			f.ContentHash, f.Language, f.ChunkCount, toEpoch(f.IndexedAt)); err != nil {
			return engerr.New(engerr.ErrCodeInternal, "failed to save file record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to commit files", err)
	}
	return nil
}

// GetFileByPath returns a file record, or nil when absent.
func (s *SQLiteStore) GetFileByPath(ctx context.Context, repoID, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, path, size, content_hash, language, chunk_count, indexed_at
		FROM files WHERE repo_id = ? AND path = ?
	`, repoID, path)

	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to load file record", err)
	}
	return f, nil
}

// ListFiles returns all file records in a repository ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context, repoID string) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, path, size, content_hash, language, chunk_count, indexed_at
		FROM files WHERE repo_id = ? ORDER BY path
	`, repoID)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to list files", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to scan file record", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var f FileRecord
	var indexedAt int64
	if err := row.Scan(&f.ID, &f.RepoID, &f.Path, &f.Size,
		&f.ContentHash, &f.Language, &f.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	f.IndexedAt = fromEpoch(indexedAt)
	return &f, nil
}

// DeleteFile removes a file record; its chunks cascade.
func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to delete file record", err)
	}
	return nil
}

// SaveChunks inserts or replaces chunk metadata in one transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*ChunkMeta) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, repo_id, file_id, file_path, seq, start_line, end_line,
			 text, content_hash, language, strategy, truncated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.RepoID, c.FileID, c.FilePath,
			c.Seq, c.StartLine, c.EndLine, c.Text, c.ContentHash, c.Language,
			c.Strategy, boolToInt(c.Truncated), toEpoch(c.CreatedAt)); err != nil {
			return engerr.New(engerr.ErrCodeInternal, "failed to save chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to commit chunks", err)
	}
	return nil
}

// GetChunk returns one chunk by ID, or nil when absent.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*ChunkMeta, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0], nil
}

// GetChunks batch-loads chunks by ID. Missing IDs are silently absent from
// the result; the caller decides whether that is an inconsistency.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*ChunkMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, repo_id, file_id, file_path, seq, start_line, end_line,
		       text, content_hash, language, strategy, truncated, created_at
		FROM chunks WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to load chunks", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*ChunkMeta, len(ids))
	for rows.Next() {
		var c ChunkMeta
		var truncated int
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.RepoID, &c.FileID, &c.FilePath, &c.Seq,
			&c.StartLine, &c.EndLine, &c.Text, &c.ContentHash, &c.Language,
			&c.Strategy, &truncated, &createdAt); err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to scan chunk", err)
		}
		c.Truncated = truncated != 0
		c.CreatedAt = fromEpoch(createdAt)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to read chunks", err)
	}

	// Preserve caller order.
	result := make([]*ChunkMeta, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// ListChunkIDs returns all chunk IDs in a repository.
func (s *SQLiteStore) ListChunkIDs(ctx context.Context, repoID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to list chunk ids", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunkIDsByHashes maps content hashes to existing chunk IDs within a
// repository. Used for ingest idempotence: a chunk whose hash is already
// present needs no re-embedding.
func (s *SQLiteStore) GetChunkIDsByHashes(ctx context.Context, repoID string, hashes []string) (map[string]string, error) {
	if len(hashes) == 0 {
		return map[string]string{}, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(hashes)+1)
	args = append(args, repoID)
	for _, h := range hashes {
		args = append(args, h)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash, id FROM chunks WHERE repo_id = ? AND content_hash IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to look up chunk hashes", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]string)
	for rows.Next() {
		var hash, id string
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to scan chunk hash", err)
		}
		result[hash] = id
	}
	return result, rows.Err()
}

// DeleteChunksByFile removes all chunks belonging to a file.
func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to delete chunks", err)
	}
	return nil
}

// BeginDeletion durably records that a repository's removal has started and
// marks it deleted so queries stop seeing it immediately.
func (s *SQLiteStore) BeginDeletion(ctx context.Context, repoID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO deletions (repo_id, started_at) VALUES (?, ?)
	`, repoID, time.Now().Unix()); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to record deletion tombstone", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE repositories SET status = ? WHERE id = ?
	`, string(StatusDeleted), repoID); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to mark repository deleted", err)
	}

	if err := tx.Commit(); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to commit tombstone", err)
	}
	return nil
}

// CompleteDeletion clears the tombstone after all destructive steps are done.
func (s *SQLiteStore) CompleteDeletion(ctx context.Context, repoID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deletions WHERE repo_id = ?`, repoID); err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to clear deletion tombstone", err)
	}
	return nil
}

// PendingDeletions lists repositories with interrupted removals.
func (s *SQLiteStore) PendingDeletions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT repo_id FROM deletions ORDER BY started_at`)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeInternal, "failed to list pending deletions", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engerr.New(engerr.ErrCodeInternal, "failed to scan pending deletion", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetState returns the value for a state key, or empty string when unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", engerr.New(engerr.ErrCodeInternal, "failed to read state", err)
	}
	return value, nil
}

// SetState stores a state key-value pair.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return engerr.New(engerr.ErrCodeInternal, "failed to write state", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func toEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromEpoch(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
