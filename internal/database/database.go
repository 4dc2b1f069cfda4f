package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"roadvision/internal/pipeline"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// SessionRecord represents one run of the fusion loop
type SessionRecord struct {
	ID        string
	Source    string
	Config    *pipeline.Config
	StartedAt time.Time
	EndedAt   *time.Time
	Frames    int
}

// FrameRecord represents the measurements of one processed frame
type FrameRecord struct {
	SessionID     string
	Seq           uint64
	Timestamp     time.Time
	Fitted        bool
	LeftCurve     float64
	RightCurve    float64
	LaneCurve     float64
	VehicleOffset float64
	Turn          string
	SmoothedLeft  *float64
	SmoothedRight *float64
	NearEdge      float64
	Detections    []DetectionRecord
	Passthrough   bool
	LatencyMs     float64
}

// DetectionRecord represents a lane-assigned detection
type DetectionRecord struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Lane       string  `json:"lane"`
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas below apply per connection
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			config TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frames INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS frame_measurements (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			fitted INTEGER DEFAULT 0,
			left_curve REAL,
			right_curve REAL,
			lane_curve REAL,
			vehicle_offset REAL,
			turn TEXT,
			smoothed_left REAL,
			smoothed_right REAL,
			near_edge REAL,
			detections TEXT,
			passthrough INTEGER DEFAULT 0,
			latency_ms REAL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_session_time ON frame_measurements(session_id, timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed successfully")
	return nil
}

// StartSession saves a new session
func (d *Database) StartSession(s *SessionRecord) error {
	cfgJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = d.db.Exec(`INSERT INTO sessions (id, source, config, started_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Source, string(cfgJSON), s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// EndSession marks a session finished and stores its frame count
func (d *Database) EndSession(id string, endedAt time.Time) error {
	_, err := d.db.Exec(`UPDATE sessions SET ended_at = ?,
		frames = (SELECT COUNT(*) FROM frame_measurements WHERE session_id = ?)
		WHERE id = ?`, endedAt, id, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (d *Database) GetSession(id string) (*SessionRecord, error) {
	var s SessionRecord
	var cfgJSON sql.NullString
	var endedAt sql.NullTime

	err := d.db.QueryRow(`SELECT id, source, config, started_at, ended_at, frames FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Source, &cfgJSON, &s.StartedAt, &endedAt, &s.Frames)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if cfgJSON.Valid && cfgJSON.String != "" {
		s.Config = &pipeline.Config{}
		if err := json.Unmarshal([]byte(cfgJSON.String), s.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	return &s, nil
}

// SaveFrame saves the measurements of one frame
func (d *Database) SaveFrame(f *FrameRecord) error {
	detJSON, err := json.Marshal(f.Detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	query := `INSERT INTO frame_measurements
		(session_id, seq, timestamp, fitted, left_curve, right_curve, lane_curve, vehicle_offset,
		 turn, smoothed_left, smoothed_right, near_edge, detections, passthrough, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.Exec(query, f.SessionID, int64(f.Seq), f.Timestamp, boolInt(f.Fitted),
		f.LeftCurve, f.RightCurve, f.LaneCurve, f.VehicleOffset, f.Turn,
		f.SmoothedLeft, f.SmoothedRight, f.NearEdge, string(detJSON), boolInt(f.Passthrough), f.LatencyMs)
	if err != nil {
		return fmt.Errorf("failed to save frame: %w", err)
	}
	return nil
}

// ListFrames returns a session's frames in sequence order
func (d *Database) ListFrames(sessionID string, limit int) ([]*FrameRecord, error) {
	query := `SELECT session_id, seq, timestamp, fitted, left_curve, right_curve, lane_curve,
		vehicle_offset, turn, smoothed_left, smoothed_right, near_edge, detections, passthrough, latency_ms
		FROM frame_measurements WHERE session_id = ? ORDER BY seq ASC`
	args := []interface{}{sessionID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var frames []*FrameRecord
	for rows.Next() {
		var f FrameRecord
		var seq int64
		var fitted, passthrough int
		var smoothedLeft, smoothedRight sql.NullFloat64
		var detJSON string

		if err := rows.Scan(&f.SessionID, &seq, &f.Timestamp, &fitted, &f.LeftCurve, &f.RightCurve,
			&f.LaneCurve, &f.VehicleOffset, &f.Turn, &smoothedLeft, &smoothedRight, &f.NearEdge,
			&detJSON, &passthrough, &f.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}

		f.Seq = uint64(seq)
		f.Fitted = fitted == 1
		f.Passthrough = passthrough == 1
		if smoothedLeft.Valid {
			f.SmoothedLeft = &smoothedLeft.Float64
		}
		if smoothedRight.Valid {
			f.SmoothedRight = &smoothedRight.Float64
		}
		if detJSON != "" {
			if err := json.Unmarshal([]byte(detJSON), &f.Detections); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detections: %w", err)
			}
		}
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

// DeleteSessionsBefore deletes sessions (and their frames) started before the given time
func (d *Database) DeleteSessionsBefore(before time.Time) (int64, error) {
	if _, err := d.db.Exec(`DELETE FROM frame_measurements WHERE session_id IN
		(SELECT id FROM sessions WHERE started_at < ?)`, before); err != nil {
		return 0, fmt.Errorf("failed to delete old frames: %w", err)
	}
	result, err := d.db.Exec("DELETE FROM sessions WHERE started_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return result.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
