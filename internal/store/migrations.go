package store

// migration is one schema step; versions are sequential from 1.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS classifications (
	account         TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	tags            TEXT NOT NULL DEFAULT '[]',
	priority_score  REAL NOT NULL DEFAULT 0,
	priority_label  TEXT NOT NULL DEFAULT 'normal',
	sentiment       TEXT NOT NULL DEFAULT 'neutral',
	confidence      REAL NOT NULL DEFAULT 0,
	reasoning_short TEXT NOT NULL DEFAULT '',
	classified_at   DATETIME NOT NULL,
	PRIMARY KEY (account, message_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_classifications_classified_at ON classifications(classified_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
