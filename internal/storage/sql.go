package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    host       TEXT NOT NULL,
    start_time DATETIME NOT NULL,
    end_time   DATETIME,
    config     TEXT
);

CREATE TABLE IF NOT EXISTS telemetry (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions (id),
    timestamp  DATETIME NOT NULL,
    status     INTEGER NOT NULL,
    battery    INTEGER NOT NULL,
    velocity   REAL NOT NULL,
    altitude   REAL NOT NULL,
    error_code INTEGER NOT NULL,
    latitude   REAL NOT NULL,
    longitude  REAL NOT NULL,
    flying     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions (id),
    timestamp  DATETIME NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_telemetry_session_time ON telemetry (session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_session_time ON events (session_id, timestamp);`

	insertSessionSQL = `
INSERT INTO sessions (id,
                      host,
                      start_time,
                      config)
VALUES (?, ?, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET end_time = ?
WHERE id = ?
  AND end_time IS NULL`

	selectSessionSQL = `
SELECT id,
       host,
       start_time,
       end_time,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       host,
       start_time,
       end_time,
       config
FROM sessions
ORDER BY start_time, rowid`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       status,
                       battery,
                       velocity,
                       altitude,
                       error_code,
                       latitude,
                       longitude,
                       flying)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTelemetrySQL = `
SELECT id,
       timestamp,
       status,
       battery,
       velocity,
       altitude,
       error_code,
       latitude,
       longitude,
       flying
FROM telemetry
WHERE session_id = ?
ORDER BY id`

	insertEventSQL = `
INSERT INTO events (session_id,
                    timestamp,
                    kind,
                    detail)
VALUES (?, ?, ?, ?)`

	selectEventsSQL = `
SELECT id,
       timestamp,
       kind,
       detail
FROM events
WHERE session_id = ?
ORDER BY id`
)
