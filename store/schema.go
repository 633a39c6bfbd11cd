package store

// schemaSQL is the base DDL. Later changes go in migrations.
const schemaSQL = `
-- Knowledge graph entities, one JSON payload per entity, upserted by id
CREATE TABLE IF NOT EXISTS medical_knowledge (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    name TEXT NOT NULL,
    payload JSON NOT NULL,
    last_updated DATETIME NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Knowledge graph edges, append-only; dangling ids are allowed
CREATE TABLE IF NOT EXISTS medical_relationships (
    id INTEGER PRIMARY KEY,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Audit trail of AI report analyses
CREATE TABLE IF NOT EXISTS analysis_history (
    id TEXT PRIMARY KEY,
    report_type TEXT NOT NULL,
    source_excerpt TEXT NOT NULL,
    summary TEXT,
    risk_level TEXT,
    response JSON,
    confidence REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_knowledge_type ON medical_knowledge(entity_type);
CREATE INDEX IF NOT EXISTS idx_knowledge_name ON medical_knowledge(name);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON medical_relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON medical_relationships(relation_type);
CREATE INDEX IF NOT EXISTS idx_history_created ON analysis_history(created_at);
`
