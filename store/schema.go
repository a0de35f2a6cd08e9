package store

// Schema creates the tables of the store. Books are kept as JSON snapshots:
// every save is a new revision, the latest one is the current book.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	revision INTEGER PRIMARY KEY AUTOINCREMENT,
	pair TEXT NOT NULL,
	saved_at DATETIME NOT NULL,
	lots INTEGER NOT NULL,
	entries INTEGER NOT NULL,
	total_profit TEXT NOT NULL,
	data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_pair ON snapshots(pair, revision);

CREATE TABLE IF NOT EXISTS reports (
	report_id TEXT PRIMARY KEY,
	pair TEXT NOT NULL,
	finished DATETIME NOT NULL,
	applied BOOLEAN NOT NULL,
	findings INTEGER NOT NULL,
	data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_pair ON reports(pair, finished);
`
