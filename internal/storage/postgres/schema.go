package postgres

import "fmt"

// schemaTemplate contains the SQL statements to create the database schema.
// All statements are idempotent. The embedding column dimension is filled in
// from the active embedding configuration at startup.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS settings (
    key VARCHAR(100) PRIMARY KEY,
    value JSONB NOT NULL,
    description TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS set_timestamp ON settings;
CREATE TRIGGER set_timestamp
BEFORE UPDATE ON settings
FOR EACH ROW
EXECUTE PROCEDURE update_updated_at_column();

CREATE TABLE IF NOT EXISTS documents (
    doc_id UUID PRIMARY KEY,
    tenant_id UUID NOT NULL,
    owner_user_id UUID NOT NULL,
    filename TEXT NOT NULL,
    uploaded_at TIMESTAMPTZ DEFAULT NOW(),
    title TEXT,
    author TEXT,
    metadata JSONB DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS ix_documents_tenant_id ON documents (tenant_id);

CREATE TABLE IF NOT EXISTS chunks (
    doc_id UUID NOT NULL,
    chunk_id INT NOT NULL,
    tenant_id UUID NOT NULL,
    text TEXT NOT NULL,
    section TEXT,
    type TEXT,
    block_type TEXT,
    embedding vector(%d),
    text_tsv TSVECTOR,
    metadata JSONB DEFAULT '{}'::jsonb,
    enrichment_status JSONB DEFAULT '{}'::jsonb,
    embedding_version INT DEFAULT 1 NOT NULL,
    PRIMARY KEY (doc_id, chunk_id),
    FOREIGN KEY (doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS ix_chunks_tenant_id ON chunks (tenant_id);
CREATE INDEX IF NOT EXISTS ix_chunks_section ON chunks (section);
CREATE INDEX IF NOT EXISTS ix_chunks_block_type ON chunks (block_type);
CREATE INDEX IF NOT EXISTS chunks_text_tsv_idx ON chunks USING GIN(text_tsv);

CREATE OR REPLACE FUNCTION update_chunks_tsv() RETURNS TRIGGER AS $$
BEGIN
    NEW.text_tsv := to_tsvector('russian', NEW.text) || to_tsvector('english', NEW.text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS tsvector_update ON chunks;
CREATE TRIGGER tsvector_update
BEFORE INSERT OR UPDATE ON chunks
FOR EACH ROW
EXECUTE FUNCTION update_chunks_tsv();

CREATE TABLE IF NOT EXISTS knowledge_events (
    id SERIAL PRIMARY KEY,
    item_uuid UUID NOT NULL,
    tenant_id UUID NOT NULL,
    user_id UUID,
    operation VARCHAR NOT NULL,
    operation_time TIMESTAMP NOT NULL,
    item_name VARCHAR NOT NULL,
    item_type VARCHAR NOT NULL,
    content VARCHAR,
    size INT8,
    status VARCHAR NOT NULL,
    s3_path TEXT
);

CREATE INDEX IF NOT EXISTS ix_knowledge_events_status_op ON knowledge_events (status, operation);

CREATE TABLE IF NOT EXISTS llm_requests_log (
    log_id BIGSERIAL PRIMARY KEY,
    request_timestamp_start TIMESTAMPTZ NOT NULL,
    request_timestamp_end TIMESTAMPTZ,
    duration_seconds FLOAT,
    is_success BOOLEAN NOT NULL,
    request_type VARCHAR(50),
    model_name VARCHAR(100),
    prompt TEXT,
    raw_response TEXT,
    error_message TEXT,
    prompt_tokens INT,
    completion_tokens INT,
    tenant_id UUID,
    doc_id UUID,
    chunk_id INT
);

CREATE INDEX IF NOT EXISTS ix_llm_log_timestamp ON llm_requests_log (request_timestamp_start DESC);
CREATE INDEX IF NOT EXISTS ix_llm_log_context ON llm_requests_log (tenant_id, doc_id);
CREATE INDEX IF NOT EXISTS ix_llm_log_performance ON llm_requests_log (is_success, request_type);
`

// Schema renders the base schema for the given embedding dimension.
func Schema(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
