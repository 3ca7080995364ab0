package db

import "fmt"

// schemaTemplate is formatted with the embedding dimension. Every
// statement is idempotent so InitSchema can run on each start.
const schemaTemplate = `
    -- ==========================================================================
    -- DOCUMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS project ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS file_type ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS content_type ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS size ON document TYPE int;
    -- Raw bytes live here unless blob storage is configured
    DEFINE FIELD IF NOT EXISTS content ON document TYPE option<bytes>;
    DEFINE FIELD IF NOT EXISTS content_key ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS job_id ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_project ON document FIELDS project;

    -- ==========================================================================
    -- CHUNK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON chunk TYPE record<document>;
    DEFINE FIELD IF NOT EXISTS project ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS overlap ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_document ON chunk FIELDS document;
    DEFINE INDEX IF NOT EXISTS chunk_project ON chunk FIELDS project;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- INGEST_JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS project ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS user ON ingest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON ingest_job TYPE string
        ASSERT $value IN ["pending", "processing", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS total_files ON ingest_job TYPE int;
    DEFINE FIELD IF NOT EXISTS processed_files ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed_files ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS metadata ON ingest_job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error_message ON ingest_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON ingest_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON ingest_job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS ingest_job_user ON ingest_job FIELDS user;
    DEFINE INDEX IF NOT EXISTS ingest_job_project ON ingest_job FIELDS project;
    DEFINE INDEX IF NOT EXISTS ingest_job_status ON ingest_job FIELDS status;

    -- ==========================================================================
    -- OAUTH_STATE TABLE
    -- ==========================================================================
    -- One-time CSRF tokens for the OAuth redirect flow
    DEFINE TABLE IF NOT EXISTS oauth_state SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS redirect ON oauth_state TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON oauth_state TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS expires_at ON oauth_state TYPE datetime;

    DEFINE INDEX IF NOT EXISTS oauth_state_expires ON oauth_state FIELDS expires_at;
`

// SchemaSQL returns the schema with the chunk embedding index sized to
// dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
