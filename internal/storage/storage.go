package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/ajbt200128/mosaic/internal/geometry"
)

// Drivers accepted by New. "sqlite" is the pure-Go modernc driver, "sqlite3"
// the cgo mattn driver.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// Store wraps SQLite-backed persistence for jobs, landmarks and image metadata.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path with driver and ensures schema.
// An empty driver means DriverModernc.
func New(driver, path string) (*Store, error) {
	switch driver {
	case "":
		driver = DriverModernc
	case DriverModernc, DriverMattn:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, path)
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
		`CREATE TABLE IF NOT EXISTS correspondences (
            job_id TEXT NOT NULL,
            side TEXT NOT NULL,
            idx INTEGER NOT NULL,
            x REAL NOT NULL,
            y REAL NOT NULL,
            PRIMARY KEY (job_id, side, idx)
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            file_path TEXT PRIMARY KEY,
            camera_make TEXT,
            camera_model TEXT,
            focal_length REAL,
            aperture REAL,
            iso INTEGER,
            exposure_time TEXT,
            gps_lat REAL,
            gps_lon REAL,
            timestamp TEXT,
            width INTEGER,
            height INTEGER
        );`,
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

// ImageMetadata captures basic EXIF/GPS info.
type ImageMetadata struct {
	FilePath     string
	CameraMake   string
	CameraModel  string
	FocalLength  float64
	Aperture     float64
	ISO          int
	ExposureTime string
	GPSLat       float64
	GPSLon       float64
	Timestamp    string
	Width        int
	Height       int
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
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
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
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// Landmark sides stored in the correspondences table.
const (
	SideReference = "reference"
	SideMoving    = "moving"
)

// RecordCorrespondences stores the landmark pairs a merge job used, replacing
// any earlier set for the same job.
func (s *Store) RecordCorrespondences(jobID string, ref, mov []geometry.Point2D) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM correspondences WHERE job_id=?;`, jobID); err != nil {
		return err
	}
	for side, pts := range map[string][]geometry.Point2D{SideReference: ref, SideMoving: mov} {
		for i, p := range pts {
			if _, err := tx.Exec(`INSERT INTO correspondences (job_id, side, idx, x, y) VALUES (?, ?, ?, ?, ?);`,
				jobID, side, i, p.X, p.Y); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Correspondences returns the landmark pairs recorded for a job, in pick order.
func (s *Store) Correspondences(jobID string) (ref, mov []geometry.Point2D, err error) {
	if s == nil {
		return nil, nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT side, x, y FROM correspondences WHERE job_id=? ORDER BY side, idx;`, jobID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var side string
		var p geometry.Point2D
		if err := rows.Scan(&side, &p.X, &p.Y); err != nil {
			return nil, nil, err
		}
		switch side {
		case SideReference:
			ref = append(ref, p)
		case SideMoving:
			mov = append(mov, p)
		}
	}
	return ref, mov, rows.Err()
}

// ImageMetadata fetches stored EXIF details for a file.
func (s *Store) ImageMetadata(path string) (ImageMetadata, error) {
	if s == nil {
		return ImageMetadata{}, errors.New("store not initialized")
	}
	meta := ImageMetadata{FilePath: path}
	err := s.DB.QueryRow(`SELECT camera_make, camera_model, focal_length, aperture, iso, exposure_time, gps_lat, gps_lon, timestamp, width, height FROM image_metadata WHERE file_path=?;`, path).
		Scan(&meta.CameraMake, &meta.CameraModel, &meta.FocalLength, &meta.Aperture, &meta.ISO, &meta.ExposureTime, &meta.GPSLat, &meta.GPSLon, &meta.Timestamp, &meta.Width, &meta.Height)
	return meta, err
}

// RecordImageMetadata stores EXIF/GPS details if available.
func (s *Store) RecordImageMetadata(meta ImageMetadata) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (file_path, camera_make, camera_model, focal_length, aperture, iso, exposure_time, gps_lat, gps_lon, timestamp, width, height)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		meta.FilePath, meta.CameraMake, meta.CameraModel, meta.FocalLength, meta.Aperture, meta.ISO, meta.ExposureTime, meta.GPSLat, meta.GPSLon, meta.Timestamp, meta.Width, meta.Height)
	return err
}
