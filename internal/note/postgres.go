package note

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/murmur/pkg/types"
)

// Schema is the SQL DDL for the notes table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS notes (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL DEFAULT '',
    raw_transcription TEXT NOT NULL DEFAULT '',
    polished_note     TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL,
    audio             BYTEA,
    audio_mime_type   TEXT NOT NULL DEFAULT '',
    target_language   TEXT NOT NULL DEFAULT 'en',
    custom_prompt     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [RecordStore] backed by a PostgreSQL database. The audio
// payload is stored as BYTEA in the same row as the text fields.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ RecordStore = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the notes
// table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// Put implements [RecordStore.Put] as an upsert, so insert and full overwrite
// share one atomic statement.
func (s *PostgresStore) Put(ctx context.Context, n Note) error {
	const query = `
		INSERT INTO notes (
			id, title, raw_transcription, polished_note, created_at,
			audio, audio_mime_type, target_language, custom_prompt
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			title             = EXCLUDED.title,
			raw_transcription = EXCLUDED.raw_transcription,
			polished_note     = EXCLUDED.polished_note,
			created_at        = EXCLUDED.created_at,
			audio             = EXCLUDED.audio,
			audio_mime_type   = EXCLUDED.audio_mime_type,
			target_language   = EXCLUDED.target_language,
			custom_prompt     = EXCLUDED.custom_prompt`

	var (
		audio    []byte
		mimeType string
	)
	if n.Audio != nil {
		audio = n.Audio.Data
		mimeType = n.Audio.MimeType
	}

	_, err := s.db.Exec(ctx, query,
		n.ID, n.Title, n.RawTranscription, n.PolishedNote, n.Timestamp.UTC(),
		audio, mimeType, n.TargetLanguage, n.CustomPrompt,
	)
	if err != nil {
		return &StorageError{Op: "put", ID: n.ID, Err: err}
	}
	return nil
}

// GetAll implements [RecordStore.GetAll].
func (s *PostgresStore) GetAll(ctx context.Context) ([]Note, error) {
	const query = `
		SELECT id, title, raw_transcription, polished_note, created_at,
		       audio, audio_mime_type, target_language, custom_prompt
		FROM notes`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "get-all", Err: err}
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var (
			n         Note
			createdAt time.Time
			audio     []byte
			mimeType  string
		)
		if err := rows.Scan(
			&n.ID, &n.Title, &n.RawTranscription, &n.PolishedNote, &createdAt,
			&audio, &mimeType, &n.TargetLanguage, &n.CustomPrompt,
		); err != nil {
			return nil, &StorageError{Op: "get-all", Err: err}
		}
		n.Timestamp = createdAt
		if len(audio) > 0 {
			n.Audio = &types.AudioClip{Data: audio, MimeType: mimeType}
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "get-all", Err: err}
	}
	return notes, nil
}

// Delete implements [RecordStore.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id); err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	return nil
}
