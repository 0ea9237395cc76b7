package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs, exported composites and
// the template catalogue.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS composites (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            output_path TEXT NOT NULL,
            template_id TEXT,
            dpi_x INTEGER,
            dpi_y INTEGER,
            width INTEGER,
            height INTEGER,
            copies INTEGER DEFAULT 1,
            skipped_slots TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS templates_seen (
            template_id TEXT PRIMARY KEY,
            asset_path TEXT NOT NULL,
            layout TEXT NOT NULL,
            required_photos INTEGER,
            color_hex TEXT,
            last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_composites_template ON composites(template_id);`,
		`CREATE INDEX IF NOT EXISTS idx_composites_job ON composites(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// CompositeRecord is an exported composite waiting for (or sent to) print.
type CompositeRecord struct {
	ID         int64
	JobID      string
	OutputPath string
	TemplateID string
	DPIX       int
	DPIY       int
	Width      int
	Height     int
	Copies     int
	Skipped    []int
	CreatedAt  time.Time
}

// TemplateRecord is a template last seen by the registry.
type TemplateRecord struct {
	TemplateID     string
	AssetPath      string
	Layout         string
	RequiredPhotos int
	ColorHex       string
	LastSeen       time.Time
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordComposite persists an exported composite and returns its row id.
func (s *Store) RecordComposite(rec CompositeRecord) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if rec.Copies < 1 {
		rec.Copies = 1
	}
	res, err := s.DB.Exec(`INSERT INTO composites (job_id, output_path, template_id, dpi_x, dpi_y, width, height, copies, skipped_slots) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.OutputPath, rec.TemplateID, rec.DPIX, rec.DPIY, rec.Width, rec.Height, rec.Copies, joinInts(rec.Skipped))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentComposites returns the latest exported composites up to limit.
func (s *Store) RecentComposites(limit int) ([]CompositeRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_id, output_path, template_id, dpi_x, dpi_y, width, height, copies, skipped_slots, created_at FROM composites ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []CompositeRecord
	for rows.Next() {
		var rec CompositeRecord
		var jobID, templateID, skipped sql.NullString
		if err := rows.Scan(&rec.ID, &jobID, &rec.OutputPath, &templateID, &rec.DPIX, &rec.DPIY, &rec.Width, &rec.Height, &rec.Copies, &skipped, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.JobID = jobID.String
		rec.TemplateID = templateID.String
		rec.Skipped = splitInts(skipped.String)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordTemplate upserts a template seen by the registry.
func (s *Store) RecordTemplate(rec TemplateRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO templates_seen (template_id, asset_path, layout, required_photos, color_hex) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(template_id) DO UPDATE SET asset_path=excluded.asset_path, layout=excluded.layout, required_photos=excluded.required_photos, color_hex=excluded.color_hex, last_seen=CURRENT_TIMESTAMP;`,
		rec.TemplateID, rec.AssetPath, rec.Layout, rec.RequiredPhotos, rec.ColorHex)
	return err
}

// Templates lists every template recorded so far, by id.
func (s *Store) Templates() ([]TemplateRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT template_id, asset_path, layout, required_photos, color_hex, last_seen FROM templates_seen ORDER BY template_id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TemplateRecord
	for rows.Next() {
		var rec TemplateRecord
		var hex sql.NullString
		if err := rows.Scan(&rec.TemplateID, &rec.AssetPath, &rec.Layout, &rec.RequiredPhotos, &hex, &rec.LastSeen); err != nil {
			return nil, err
		}
		rec.ColorHex = hex.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}
