// Package store provides SQLite persistence for articles and alert records.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Article is the stored record. Enrichment fields are zero-valued on
// degraded records (Enriched false).
type Article struct {
	ID           int64
	CanonicalURL string
	URL          string
	Title        string
	Source       string
	Category     string
	Text         string
	ScrapeMethod string

	Enriched       bool
	Summary        string
	ImpactScore    int
	Sentiment      string
	Instruments    []string
	Recommendation string
	Confidence     float64

	Bookmarked  bool
	PublishedAt time.Time
	FetchedAt   time.Time
	InsertedAt  time.Time
}

// AlertRecord is one row of the alert dispatch log.
type AlertRecord struct {
	ID         int64
	ArticleURL string
	Recipient  string
	Subject    string
	Status     string // "sent" or "failed"
	SentAt     time.Time
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Source         string
	Category       string
	MinImpact      int
	Since          time.Time
	BookmarkedOnly bool
	Limit          int
}

// Open creates a Store at the given path, creating tables as needed.
// WAL mode is enabled for file-based databases.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		canonical_url TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		source TEXT NOT NULL,
		category TEXT,
		text TEXT,
		scrape_method TEXT,
		enriched INTEGER DEFAULT 0,
		summary TEXT,
		impact_score INTEGER DEFAULT 0,
		sentiment TEXT,
		instruments TEXT,
		recommendation TEXT,
		confidence REAL DEFAULT 0,
		is_bookmarked INTEGER DEFAULT 0,
		published_at DATETIME,
		fetched_at DATETIME,
		inserted_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);
	CREATE INDEX IF NOT EXISTS idx_articles_impact ON articles(impact_score DESC);

	CREATE TABLE IF NOT EXISTS email_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		article_url TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT,
		status TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_sent ON email_alerts(sent_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Upsert inserts or updates an article keyed on canonical URL. The bookmark
// flag is never clobbered by an update; only SetBookmarked changes it.
func (s *Store) Upsert(a *Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instruments, err := json.Marshal(a.Instruments)
	if err != nil {
		return fmt.Errorf("marshal instruments: %w", err)
	}
	if a.InsertedAt.IsZero() {
		a.InsertedAt = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO articles (
			canonical_url, url, title, source, category, text, scrape_method,
			enriched, summary, impact_score, sentiment, instruments,
			recommendation, confidence, is_bookmarked,
			published_at, fetched_at, inserted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_url) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			source = excluded.source,
			category = excluded.category,
			text = excluded.text,
			scrape_method = excluded.scrape_method,
			enriched = excluded.enriched,
			summary = excluded.summary,
			impact_score = excluded.impact_score,
			sentiment = excluded.sentiment,
			instruments = excluded.instruments,
			recommendation = excluded.recommendation,
			confidence = excluded.confidence,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at
	`,
		a.CanonicalURL, a.URL, a.Title, a.Source, a.Category, a.Text, a.ScrapeMethod,
		boolToInt(a.Enriched), a.Summary, a.ImpactScore, a.Sentiment, string(instruments),
		a.Recommendation, a.Confidence, boolToInt(a.Bookmarked),
		a.PublishedAt, a.FetchedAt, a.InsertedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

// SetBookmarked flips the bookmark flag for a canonical URL.
func (s *Store) SetBookmarked(canonicalURL string, bookmarked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE articles SET is_bookmarked = ? WHERE canonical_url = ?",
		boolToInt(bookmarked), canonicalURL,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no article with canonical URL %s", canonicalURL)
	}
	return nil
}

// Get returns one article by canonical URL.
func (s *Store) Get(canonicalURL string) (*Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	articles, err := s.queryArticles(
		selectArticles().Where(sq.Eq{"canonical_url": canonicalURL}),
	)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, sql.ErrNoRows
	}
	return &articles[0], nil
}

// List returns articles matching the filter, newest first.
func (s *Store) List(f Filter) ([]Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := selectArticles().OrderBy("published_at DESC")
	if f.Source != "" {
		q = q.Where(sq.Eq{"source": f.Source})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": f.Category})
	}
	if f.MinImpact > 0 {
		q = q.Where(sq.And{
			sq.Eq{"enriched": 1},
			sq.GtOrEq{"impact_score": f.MinImpact},
		})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.Gt{"published_at": f.Since})
	}
	if f.BookmarkedOnly {
		q = q.Where(sq.Eq{"is_bookmarked": 1})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	return s.queryArticles(q)
}

// ListBookmarked returns all bookmarked articles, newest first.
func (s *Store) ListBookmarked() ([]Article, error) {
	return s.List(Filter{BookmarkedOnly: true})
}

// PurgeNonBookmarked deletes every article that is not bookmarked and
// returns how many rows went. Bookmarks always survive a reset.
func (s *Store) PurgeNonBookmarked() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM articles WHERE is_bookmarked = 0")
	if err != nil {
		return 0, fmt.Errorf("purge articles: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored articles.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&n)
	return n, err
}

// LogAlert appends one row to the alert dispatch log.
func (s *Store) LogAlert(rec *AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO email_alerts (article_url, recipient, subject, status, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ArticleURL, rec.Recipient, rec.Subject, rec.Status, rec.SentAt)
	if err != nil {
		return fmt.Errorf("log alert: %w", err)
	}
	return nil
}

// LastAlertAt returns the time of the most recent confirmed alert, or the
// zero time when none has been sent.
func (s *Store) LastAlertAt() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sentAt time.Time
	err := s.db.QueryRow(
		"SELECT sent_at FROM email_alerts WHERE status = 'sent' ORDER BY sent_at DESC LIMIT 1",
	).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return sentAt, nil
}

// ListAlerts returns the alert log, newest first.
func (s *Store) ListAlerts(limit int) ([]AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := sq.Select("id", "article_url", "recipient", "subject", "status", "sent_at").
		From("email_alerts").
		OrderBy("sent_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.ArticleURL, &rec.Recipient, &rec.Subject, &rec.Status, &rec.SentAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func selectArticles() sq.SelectBuilder {
	return sq.Select(
		"id", "canonical_url", "url", "title", "source", "category", "text",
		"scrape_method", "enriched", "summary", "impact_score", "sentiment",
		"instruments", "recommendation", "confidence", "is_bookmarked",
		"published_at", "fetched_at", "inserted_at",
	).From("articles")
}

// queryArticles executes a select and scans rows. Caller must hold s.mu.
func (s *Store) queryArticles(q sq.SelectBuilder) ([]Article, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		var enriched, bookmarked int
		var instruments sql.NullString
		err := rows.Scan(
			&a.ID, &a.CanonicalURL, &a.URL, &a.Title, &a.Source, &a.Category, &a.Text,
			&a.ScrapeMethod, &enriched, &a.Summary, &a.ImpactScore, &a.Sentiment,
			&instruments, &a.Recommendation, &a.Confidence, &bookmarked,
			&a.PublishedAt, &a.FetchedAt, &a.InsertedAt,
		)
		if err != nil {
			return nil, err
		}
		a.Enriched = enriched != 0
		a.Bookmarked = bookmarked != 0
		if instruments.Valid && instruments.String != "" {
			if err := json.Unmarshal([]byte(instruments.String), &a.Instruments); err != nil {
				a.Instruments = nil
			}
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
