package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"dronelink/internal/link"
	"dronelink/internal/protocol"
)

// Event kinds stored alongside telemetry
const (
	EventOnline  = "online"
	EventOffline = "offline"
	EventPress   = "press"
	EventRelease = "release"
)

// Session is one run of the link application.
type Session struct {
	ID        uuid.UUID
	Host      string
	StartTime time.Time
	EndTime   *time.Time
	Config    *string
}

// TelemetryRecord is one stored telemetry frame.
type TelemetryRecord struct {
	ID        int64
	Timestamp time.Time
	Frame     protocol.TelemetryFrame
	Flying    bool
}

// Event is a stored link or operator event.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	Detail    string
}

// FlightRecorder persists sessions, telemetry and events in SQLite.
// Writes go through a single WAL connection; reads use a read-only one.
type FlightRecorder struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewFlightRecorder returns a recorder for the database at dbPath. The file is
// created on first write.
func NewFlightRecorder(dbPath string) *FlightRecorder {
	return &FlightRecorder{dbPath: dbPath}
}

func (r *FlightRecorder) getWriteDB() (*sql.DB, error) {
	r.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", r.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			r.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			r.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		r.writeDB = db
	})

	return r.writeDB, r.writeDBErr
}

func (r *FlightRecorder) getReadDB() (*sql.DB, error) {
	// The schema must exist before a read-only connection can see it
	if _, err := r.getWriteDB(); err != nil {
		return nil, err
	}

	r.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", r.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			r.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		r.readDB = db
	})

	return r.readDB, r.readDBErr
}

// StartSession records a new session for host. config may be nil, a string,
// []byte or any JSON-serializable value.
func (r *FlightRecorder) StartSession(ctx context.Context, host string, config any) (session *Session, err error) {
	var configData sql.NullString

	switch c := config.(type) {
	case nil:
	case string:
		configData = sql.NullString{String: c, Valid: true}
	case []byte:
		configData = sql.NullString{String: string(c), Valid: true}
	default:
		p, mErr := json.Marshal(c)
		if mErr != nil {
			return nil, fmt.Errorf("marshaling config: %w", mErr)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := r.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	s := &Session{
		ID:        uuid.New(),
		Host:      host,
		StartTime: time.Now().UTC(),
	}
	if configData.Valid {
		s.Config = &configData.String
	}

	if _, err = stmt.ExecContext(ctx, s.ID.String(), s.Host, s.StartTime, configData); err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of a session. Ending it twice keeps the first time.
func (r *FlightRecorder) EndSession(ctx context.Context, id uuid.UUID) error {
	db, err := r.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, endSessionSQL, time.Now().UTC(), id.String()); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

// Session returns one session, or nil when it does not exist.
func (r *FlightRecorder) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	db, err := r.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	s, err := scanSession(db.QueryRowContext(ctx, selectSessionSQL, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return s, nil
}

// Sessions returns every session ordered by start time.
func (r *FlightRecorder) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := r.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		s, sErr := scanSession(rows)
		if sErr != nil {
			return nil, fmt.Errorf("scanning session: %w", sErr)
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// StoreTelemetry saves one drone state for a session.
func (r *FlightRecorder) StoreTelemetry(ctx context.Context, sessionID uuid.UUID, state link.DroneState) (telemetryID int64, err error) {
	db, err := r.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	at := state.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	t := state.Telemetry

	result, err := stmt.ExecContext(
		ctx,
		sessionID.String(),
		at.UTC(),
		int(t.Status),
		t.Battery,
		t.Velocity,
		t.Altitude,
		int(t.ErrorCode),
		t.Latitude,
		t.Longitude,
		state.Flying,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting telemetry: %w", err)
	}

	telemetryID, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting telemetry ID: %w", err)
	}
	return telemetryID, nil
}

// Telemetry returns a session's telemetry in arrival order.
func (r *FlightRecorder) Telemetry(ctx context.Context, sessionID uuid.UUID) (records []TelemetryRecord, err error) {
	db, err := r.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectTelemetrySQL, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var rec TelemetryRecord
		var status, errorCode int
		if err = rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&status,
			&rec.Frame.Battery,
			&rec.Frame.Velocity,
			&rec.Frame.Altitude,
			&errorCode,
			&rec.Frame.Latitude,
			&rec.Frame.Longitude,
			&rec.Flying,
		); err != nil {
			return nil, fmt.Errorf("scanning telemetry: %w", err)
		}
		rec.Frame.Status = protocol.Status(status)
		rec.Frame.ErrorCode = protocol.ErrorCode(errorCode)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry: %w", err)
	}
	return records, nil
}

// StoreEvent saves a link or operator event for a session.
func (r *FlightRecorder) StoreEvent(ctx context.Context, sessionID uuid.UUID, kind, detail string) error {
	db, err := r.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var d sql.NullString
	if detail != "" {
		d = sql.NullString{String: detail, Valid: true}
	}

	if _, err := db.ExecContext(ctx, insertEventSQL, sessionID.String(), time.Now().UTC(), kind, d); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Events returns a session's events in arrival order.
func (r *FlightRecorder) Events(ctx context.Context, sessionID uuid.UUID) (events []Event, err error) {
	db, err := r.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectEventsSQL, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err = rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &detail); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Close builds the indexes and releases both connections. It is safe to call
// more than once.
func (r *FlightRecorder) Close() error {
	r.closeOnce.Do(func() {
		var writeErr, readErr error

		if r.readDB != nil {
			readErr = r.readDB.Close()
			r.readDB = nil
		}

		if r.writeDB != nil {
			_, _ = r.writeDB.Exec(initIndexesSQL)

			writeErr = r.writeDB.Close()
			r.writeDB = nil
		}

		r.closeErr = errors.Join(writeErr, readErr)
	})

	return r.closeErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var id string
	var end sql.NullTime
	var config sql.NullString

	if err := row.Scan(&id, &s.Host, &s.StartTime, &end, &config); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing session id %q: %w", id, err)
	}
	s.ID = parsed

	if end.Valid {
		s.EndTime = &end.Time
	}
	if config.Valid {
		s.Config = &config.String
	}
	return &s, nil
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
