package agsqlite

const schema = `
CREATE TABLE IF NOT EXISTS round_states(
  session_id TEXT PRIMARY KEY,
  state BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS statements(
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  fingerprint BLOB NOT NULL,
  statement BLOB NOT NULL,
  PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS finalizations(
  session_id TEXT PRIMARY KEY,
  digest BLOB NOT NULL,
  candidate BLOB NOT NULL,
  justification BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS candidates(
  digest BLOB PRIMARY KEY,
  session_id TEXT NOT NULL,
  height INTEGER NOT NULL,
  candidate BLOB NOT NULL,
  justification BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS candidates_by_height ON candidates(height);

CREATE TABLE IF NOT EXISTS known_bad(
  digest BLOB PRIMARY KEY
);
`
