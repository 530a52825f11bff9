// Package persistence provides SQLite-based storage for simulation snapshots.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/citynet/internal/engine"
)

// ErrNoState means the database holds no saved simulation.
var ErrNoState = errors.New("no saved simulation state")

// DB wraps a SQLite connection for snapshot persistence.
type DB struct {
	conn *sqlx.DB

	// mu serializes saves; autosave and the admin endpoint run on different goroutines.
	mu            sync.Mutex
	lastEventTick uint64 // Events at or before this tick are already stored
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if v, err := db.GetMeta("last_event_tick"); err == nil {
		db.lastEventTick, _ = strconv.ParseUint(v, 10, 64)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cities (
		id INTEGER PRIMARY KEY,
		x REAL NOT NULL,
		y REAL NOT NULL,
		logical_size INTEGER NOT NULL,
		animated_size REAL NOT NULL,
		age REAL NOT NULL,
		since_evolved REAL NOT NULL,
		collapsing INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS roads (
		id INTEGER PRIMARY KEY,
		start_id INTEGER NOT NULL,
		end_id INTEGER NOT NULL,
		built_at REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		clock REAL NOT NULL,
		kind TEXT NOT NULL,
		city_id INTEGER NOT NULL,
		road_id INTEGER NOT NULL,
		size INTEGER NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// HasState reports whether a snapshot has been saved.
func (db *DB) HasState() bool {
	_, err := db.GetMeta("run_id")
	return err == nil
}

// SaveSnapshot replaces the stored cities, roads and metadata with snap.
func (db *DB) SaveSnapshot(snap engine.Snapshot) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.saveSnapshot(snap)
}

func (db *DB) saveSnapshot(snap engine.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cities"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM roads"); err != nil {
		return err
	}

	cityStmt, err := tx.Preparex(`INSERT INTO cities
		(id, x, y, logical_size, animated_size, age, since_evolved, collapsing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer cityStmt.Close()

	for _, c := range snap.Cities {
		collapsing := 0
		if c.Collapsing {
			collapsing = 1
		}
		if _, err := cityStmt.Exec(c.ID, c.X, c.Y, c.LogicalSize, c.AnimatedSize, c.Age, c.SinceEvolved, collapsing); err != nil {
			return fmt.Errorf("insert city %d: %w", c.ID, err)
		}
	}

	roadStmt, err := tx.Preparex("INSERT INTO roads (id, start_id, end_id, built_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer roadStmt.Close()

	for _, r := range snap.Roads {
		if _, err := roadStmt.Exec(r.ID, r.StartID, r.EndID, r.BuiltAt); err != nil {
			return fmt.Errorf("insert road %d: %w", r.ID, err)
		}
	}

	rulesJSON, err := json.Marshal(snap.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	statsJSON, err := json.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	meta := map[string]string{
		"run_id":          snap.RunID,
		"tick":            strconv.FormatUint(snap.Tick, 10),
		"clock":           strconv.FormatFloat(snap.Clock, 'g', -1, 64),
		"width":           strconv.FormatFloat(snap.Bounds.Width, 'g', -1, 64),
		"height":          strconv.FormatFloat(snap.Bounds.Height, 'g', -1, 64),
		"spawn_countdown": strconv.FormatFloat(snap.SpawnCountdown, 'g', -1, 64),
		"next_city_id":    strconv.FormatUint(snap.NextCityID, 10),
		"next_road_id":    strconv.FormatUint(snap.NextRoadID, 10),
		"rules":           string(rulesJSON),
		"stats":           string(statsJSON),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot reads the stored snapshot. Returns ErrNoState if nothing was saved.
func (db *DB) LoadSnapshot() (engine.Snapshot, error) {
	var snap engine.Snapshot
	if !db.HasState() {
		return snap, ErrNoState
	}

	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := db.conn.Select(&rows, "SELECT key, value FROM world_meta"); err != nil {
		return snap, fmt.Errorf("load meta: %w", err)
	}
	meta := make(map[string]string, len(rows))
	for _, r := range rows {
		meta[r.Key] = r.Value
	}

	var errs []error
	parseFloat := func(key string) float64 {
		v, err := strconv.ParseFloat(meta[key], 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("meta %s: %w", key, err))
		}
		return v
	}
	parseUint := func(key string) uint64 {
		v, err := strconv.ParseUint(meta[key], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("meta %s: %w", key, err))
		}
		return v
	}

	snap.RunID = meta["run_id"]
	snap.Tick = parseUint("tick")
	snap.Clock = parseFloat("clock")
	snap.Bounds.Width = parseFloat("width")
	snap.Bounds.Height = parseFloat("height")
	snap.SpawnCountdown = parseFloat("spawn_countdown")
	snap.NextCityID = parseUint("next_city_id")
	snap.NextRoadID = parseUint("next_road_id")
	if err := json.Unmarshal([]byte(meta["rules"]), &snap.Rules); err != nil {
		errs = append(errs, fmt.Errorf("meta rules: %w", err))
	}
	if err := json.Unmarshal([]byte(meta["stats"]), &snap.Stats); err != nil {
		errs = append(errs, fmt.Errorf("meta stats: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return snap, err
	}

	if err := db.conn.Select(&snap.Cities, `SELECT id, x, y, logical_size, animated_size,
		age, since_evolved, collapsing FROM cities ORDER BY id`); err != nil {
		return snap, fmt.Errorf("load cities: %w", err)
	}
	if err := db.conn.Select(&snap.Roads, "SELECT id, start_id, end_id, built_at FROM roads ORDER BY id"); err != nil {
		return snap, fmt.Errorf("load roads: %w", err)
	}
	for i := range snap.Roads {
		snap.Roads[i].Age = snap.Clock - snap.Roads[i].BuiltAt
	}

	return snap, nil
}

// SaveEvents appends events newer than the last saved tick.
func (db *DB) SaveEvents(events []engine.Event) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.saveEvents(events)
}

func (db *DB) saveEvents(events []engine.Event) error {
	var fresh []engine.Event
	for _, e := range events {
		if e.Tick > db.lastEventTick {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range fresh {
		_, err := tx.NamedExec(`INSERT INTO events (tick, clock, kind, city_id, road_id, size, description)
			VALUES (:tick, :clock, :kind, :city_id, :road_id, :size, :description)`, e)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	last := fresh[len(fresh)-1].Tick
	if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES ('last_event_tick', ?)",
		strconv.FormatUint(last, 10)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	db.lastEventTick = last
	return nil
}

// RecentEvents returns the most recent N stored events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, clock, kind, city_id, road_id, size, description FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %s: %w", key, ErrNoState)
	}
	return value, err
}

// SaveWorldState performs a full save of the simulation.
func (db *DB) SaveWorldState(sim *engine.Simulation) error {
	// Snapshot under the save lock so a later save never stores older state.
	db.mu.Lock()
	defer db.mu.Unlock()

	snap, events := sim.SnapshotWithEvents()
	slog.Info("saving simulation state", "cities", len(snap.Cities), "roads", len(snap.Roads), "tick", snap.Tick)

	if err := db.saveSnapshot(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := db.saveEvents(events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}

	slog.Info("simulation state saved")
	return nil
}
