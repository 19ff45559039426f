package store

// migration is one forward-only, idempotent step in the ladder. expected
// maps a table name to the columns effective_version() must find present
// on it for this migration to count as actually applied — guarding
// against a crash between DDL and the schema_migrations INSERT on a
// previous run.
type migration struct {
	version  int
	sql      string
	expected map[string][]string
}

// migrations is the full forward-only ladder. Versions 5, 8, 10, 12, 13,
// 14 carry an expected-columns fingerprint per spec §6 ("integrity check
// covers at least migrations 5, 8, 10, 12, 13, 14"); the others still
// record one for good measure since the cost is the same idempotent
// pragma_table_info query.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	importance REAL NOT NULL DEFAULT 0.5,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_type_name ON entities(type, name) WHERE deleted_at IS NULL;
`,
		expected: map[string][]string{"entities": {"id", "name", "type", "description", "importance", "created_at", "updated_at", "deleted_at"}},
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS entity_aliases (
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	alias TEXT NOT NULL,
	UNIQUE(alias)
);
CREATE INDEX IF NOT EXISTS idx_entity_aliases_entity ON entity_aliases(entity_id);
`,
		expected: map[string][]string{"entity_aliases": {"entity_id", "alias"}},
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	importance REAL NOT NULL DEFAULT 0.5,
	confidence REAL NOT NULL DEFAULT 1.0,
	content_hash TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
`,
		expected: map[string][]string{"memories": {"id", "content", "type", "importance", "confidence", "content_hash", "created_at", "updated_at"}},
	},
	{
		version: 4,
		sql: `
ALTER TABLE memories ADD COLUMN last_accessed TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0;
`,
		expected: map[string][]string{"memories": {"last_accessed", "access_count"}},
	},
	{
		version: 5,
		sql: `
ALTER TABLE memories ADD COLUMN verification_status TEXT NOT NULL DEFAULT 'pending';
ALTER TABLE memories ADD COLUMN verified_at TEXT;
ALTER TABLE memories ADD COLUMN invalidated_at TEXT;
CREATE INDEX IF NOT EXISTS idx_memories_invalidated ON memories(invalidated_at);
`,
		expected: map[string][]string{"memories": {"verification_status", "verified_at", "invalidated_at"}},
	},
	{
		version: 6,
		sql: `
CREATE TABLE IF NOT EXISTS memory_entities (
	memory_id INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship TEXT NOT NULL DEFAULT 'about',
	UNIQUE(memory_id, entity_id, relationship)
);
CREATE INDEX IF NOT EXISTS idx_memory_entities_entity ON memory_entities(entity_id);
`,
		expected: map[string][]string{"memory_entities": {"memory_id", "entity_id", "relationship"}},
	},
	{
		version: 7,
		sql: `
CREATE TABLE IF NOT EXISTS relationships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	target_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	relationship_type TEXT NOT NULL,
	strength REAL NOT NULL DEFAULT 0.5,
	valid_at TEXT NOT NULL,
	invalid_at TEXT,
	direction TEXT NOT NULL DEFAULT 'forward',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_endpoints ON relationships(source_entity_id, target_entity_id, relationship_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_relationships_current ON relationships(source_entity_id, target_entity_id, relationship_type) WHERE invalid_at IS NULL;
`,
		expected: map[string][]string{"relationships": {"source_entity_id", "target_entity_id", "relationship_type", "strength", "valid_at", "invalid_at", "direction"}},
	},
	{
		version: 8,
		sql: `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	narrative TEXT NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	summarized INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, summarized);
`,
		expected: map[string][]string{
			"episodes": {"session_id", "narrative", "start_at", "end_at"},
			"messages": {"session_id", "role", "content", "created_at", "summarized"},
		},
	},
	{
		version: 9,
		sql: `
CREATE TABLE IF NOT EXISTS patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern_type TEXT NOT NULL,
	name TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	first_observed_at TEXT NOT NULL,
	last_confirmed_at TEXT NOT NULL,
	aggregation_count INTEGER NOT NULL DEFAULT 1,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(pattern_type, is_active);
`,
		expected: map[string][]string{"patterns": {"pattern_type", "name", "confidence", "first_observed_at", "last_confirmed_at", "aggregation_count", "is_active"}},
	},
	{
		version: 10,
		sql: `
CREATE TABLE IF NOT EXISTS reflections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reflection_type TEXT NOT NULL,
	content TEXT NOT NULL,
	about_entity INTEGER REFERENCES entities(id) ON DELETE SET NULL,
	importance REAL NOT NULL DEFAULT 0.7,
	confidence REAL NOT NULL DEFAULT 0.8,
	decay_rate REAL NOT NULL DEFAULT 0.999,
	aggregation_count INTEGER NOT NULL DEFAULT 1,
	first_observed_at TEXT NOT NULL,
	last_confirmed_at TEXT NOT NULL
);
`,
		expected: map[string][]string{"reflections": {"reflection_type", "content", "about_entity", "importance", "confidence", "decay_rate", "aggregation_count"}},
	},
	{
		version: 11,
		sql: `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type TEXT NOT NULL,
	filename TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entity_documents (
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	UNIQUE(entity_id, document_id)
);
`,
		expected: map[string][]string{
			"documents":        {"source_type", "filename", "content", "summary", "created_at"},
			"entity_documents": {"entity_id", "document_id"},
		},
	},
	{
		version: 12,
		sql: `
CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
	memory_id INTEGER PRIMARY KEY,
	embedding FLOAT[384]
);
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
	entity_id INTEGER PRIMARY KEY,
	embedding FLOAT[384]
);
`,
		expected: map[string][]string{
			"vec_memories": {"memory_id", "embedding"},
			"vec_entities": {"entity_id", "embedding"},
		},
	},
	{
		version: 13,
		sql: `
CREATE TABLE IF NOT EXISTS memory_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL CHECK (event_type IN ('add','update','merge','decay','invalidate','reinforce')),
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_events_memory ON memory_events(memory_id);
CREATE TABLE IF NOT EXISTS recall_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
`,
		expected: map[string][]string{
			"memory_events": {"memory_id", "event_type", "detail", "created_at"},
			"recall_log":    {"query", "result_count", "created_at"},
		},
	},
	{
		version: 14,
		sql: `
CREATE TABLE IF NOT EXISTS pending_embeddings (
	owner_kind TEXT NOT NULL,
	owner_id INTEGER NOT NULL,
	queued_at TEXT NOT NULL,
	UNIQUE(owner_kind, owner_id)
);
`,
		expected: map[string][]string{"pending_embeddings": {"owner_kind", "owner_id", "queued_at"}},
	},
	{
		version: 15,
		sql: `
ALTER TABLE memories ADD COLUMN aggregated_from TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN merged_into INTEGER;
CREATE INDEX IF NOT EXISTS idx_memories_merged_into ON memories(merged_into);
`,
		expected: map[string][]string{"memories": {"aggregated_from", "merged_into"}},
	},
}

const maxSchemaVersion = 15
