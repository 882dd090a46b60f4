// Package store provides durable article storage backed by SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"secbrief/internal/core"
)

// ErrDuplicateURL is returned by Save when the article URL already exists.
var ErrDuplicateURL = errors.New("article url already exists")

// Store is the SQLite-backed article store. It is the single writable
// shared resource of the pipeline; writes are serialized internally.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "secbrief.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	articlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		source TEXT,
		source_type TEXT,
		published_date TEXT,
		fetched_at DATETIME,
		content TEXT,
		summary TEXT,
		zh_summary TEXT,
		category TEXT,
		is_pushed INTEGER DEFAULT 0,
		extras TEXT
	);`

	githubReposTable := `
	CREATE TABLE IF NOT EXISTS github_repos (
		full_name TEXT PRIMARY KEY,
		stars INTEGER,
		release_tag TEXT,
		pushed_at TEXT,
		updated_at DATETIME
	);`

	feedbackTable := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		rating TEXT,
		query TEXT,
		created_at DATETIME
	);`

	indexStmt := `CREATE INDEX IF NOT EXISTS idx_articles_pushed ON articles (is_pushed);`

	for _, stmt := range []string{articlesTable, githubReposTable, feedbackTable, indexStmt} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// ExistsByURL reports whether an article with the exact URL is stored.
func (s *Store) ExistsByURL(url string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM articles WHERE url = ?", url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query url: %w", err)
	}
	return true, nil
}

// ExistingURLs returns the full set of stored URLs. Used as a bulk prefetch
// by the scheduler so per-item dedup does not hit the database.
func (s *Store) ExistingURLs() (map[string]bool, error) {
	rows, err := s.db.Query("SELECT url FROM articles")
	if err != nil {
		return nil, fmt.Errorf("failed to query urls: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls[url] = true
	}
	return urls, rows.Err()
}

// Save inserts an article and returns its assigned id. A duplicate URL
// yields ErrDuplicateURL; the caller decides whether that matters.
func (s *Store) Save(article *core.Article) (int64, error) {
	if article.Title == "" {
		return 0, fmt.Errorf("article has no title")
	}
	if article.URL == "" {
		return 0, fmt.Errorf("article has no url")
	}

	extras, _ := json.Marshal(article.Extras)
	fetchedAt := article.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
	INSERT INTO articles
	(title, url, source, source_type, published_date, fetched_at, content, summary, zh_summary, category, is_pushed, extras)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		article.Title,
		article.URL,
		article.Source,
		string(article.SourceType),
		article.PublishedDate,
		fetchedAt,
		article.Content,
		article.Summary,
		article.ZhSummary,
		article.Category,
		string(extras),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateURL
		}
		return 0, fmt.Errorf("failed to insert article: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}

	article.ID = id
	article.FetchedAt = fetchedAt
	return id, nil
}

// Unpushed returns all articles not yet delivered to the messenger.
func (s *Store) Unpushed() ([]core.Article, error) {
	return s.queryArticles("SELECT " + articleColumns + " FROM articles WHERE is_pushed = 0 ORDER BY id")
}

// AllArticles returns every stored article, used for the initial index build.
func (s *Store) AllArticles() ([]core.Article, error) {
	return s.queryArticles("SELECT " + articleColumns + " FROM articles ORDER BY id")
}

// MarkPushed flips is_pushed for the given ids in a single transaction.
func (s *Store) MarkPushed(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare("UPDATE articles SET is_pushed = 1 WHERE id = ?")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to mark article %d pushed: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark-pushed: %w", err)
	}
	return nil
}

const articleColumns = "id, title, url, source, source_type, published_date, fetched_at, content, summary, zh_summary, category, is_pushed, extras"

func (s *Store) queryArticles(query string, args ...any) ([]core.Article, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []core.Article
	for rows.Next() {
		var a core.Article
		var sourceType, extras string
		var pushed int
		if err := rows.Scan(
			&a.ID, &a.Title, &a.URL, &a.Source, &sourceType, &a.PublishedDate,
			&a.FetchedAt, &a.Content, &a.Summary, &a.ZhSummary, &a.Category,
			&pushed, &extras,
		); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.SourceType = core.SourceType(sourceType)
		a.IsPushed = pushed != 0
		if extras != "" && extras != "null" {
			_ = json.Unmarshal([]byte(extras), &a.Extras)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// RepoState is the persisted snapshot of one tracked GitHub repository.
type RepoState struct {
	FullName   string
	Stars      int
	ReleaseTag string
	PushedAt   string
}

// RepoStates loads the full tracked-repository map for the GitHub adapter.
func (s *Store) RepoStates() (map[string]RepoState, error) {
	rows, err := s.db.Query("SELECT full_name, stars, release_tag, pushed_at FROM github_repos")
	if err != nil {
		return nil, fmt.Errorf("failed to query repo states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]RepoState)
	for rows.Next() {
		var st RepoState
		if err := rows.Scan(&st.FullName, &st.Stars, &st.ReleaseTag, &st.PushedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repo state: %w", err)
		}
		states[st.FullName] = st
	}
	return states, rows.Err()
}

// SaveRepoState upserts the snapshot of one repository.
func (s *Store) SaveRepoState(state RepoState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
	INSERT OR REPLACE INTO github_repos (full_name, stars, release_tag, pushed_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`,
		state.FullName, state.Stars, state.ReleaseTag, state.PushedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save repo state: %w", err)
	}
	return nil
}

// SaveFeedback records a user rating from a card callback.
func (s *Store) SaveFeedback(userID, rating, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO feedback (user_id, rating, query, created_at) VALUES (?, ?, ?, ?)",
		userID, rating, query, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// Stats summarizes stored content, used by the evaluate command.
type Stats struct {
	Total        int
	Pushed       int
	BySourceType map[string]int
	EmptyContent int
}

// GetStats returns aggregate counts over the article table.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{BySourceType: make(map[string]int)}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles WHERE is_pushed = 1").Scan(&stats.Pushed); err != nil {
		return nil, fmt.Errorf("failed to count pushed: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles WHERE content = '' AND summary = ''").Scan(&stats.EmptyContent); err != nil {
		return nil, fmt.Errorf("failed to count empty: %w", err)
	}

	rows, err := s.db.Query("SELECT source_type, COUNT(*) FROM articles GROUP BY source_type")
	if err != nil {
		return nil, fmt.Errorf("failed to group by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		stats.BySourceType[st] = n
	}
	return stats, rows.Err()
}
