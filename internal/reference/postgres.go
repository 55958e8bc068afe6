package reference

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tilawa/pkg/types"
)

var (
	_ Source = (*PostgresSource)(nil)
	_ Lister = (*PostgresSource)(nil)
)

const ddlVerses = `
CREATE TABLE IF NOT EXISTS verses (
    surah  INTEGER  NOT NULL,
    ayah   INTEGER  NOT NULL,
    text   TEXT     NOT NULL,
    PRIMARY KEY (surah, ayah)
);

CREATE TABLE IF NOT EXISTS verse_annotations (
    surah         INTEGER  NOT NULL,
    ayah          INTEGER  NOT NULL,
    seq           INTEGER  NOT NULL,
    rule          TEXT     NOT NULL,
    start_offset  INTEGER  NOT NULL,
    end_offset    INTEGER  NOT NULL,
    PRIMARY KEY (surah, ayah, seq),
    FOREIGN KEY (surah, ayah) REFERENCES verses (surah, ayah) ON DELETE CASCADE,
    CHECK (start_offset >= 0 AND start_offset < end_offset)
);
`

// Migrate creates the verses and verse_annotations tables if they do not
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlVerses); err != nil {
		return fmt.Errorf("reference: migrate: %w", err)
	}
	return nil
}

// PostgresSource serves verses from PostgreSQL. All methods are safe for
// concurrent use.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("reference: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reference: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresSource{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PostgresSource) Close() {
	p.pool.Close()
}

// Ping checks database connectivity.
func (p *PostgresSource) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Verse implements [Source].
func (p *PostgresSource) Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error) {
	v := types.AnnotatedVerse{Verse: ref}
	err := p.pool.QueryRow(ctx,
		`SELECT text FROM verses WHERE surah = $1 AND ayah = $2`,
		ref.Surah, ref.Ayah,
	).Scan(&v.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.AnnotatedVerse{}, fmt.Errorf("%w: %s", ErrVerseNotFound, ref)
	}
	if err != nil {
		return types.AnnotatedVerse{}, fmt.Errorf("reference: query verse %s: %w", ref, err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT rule, start_offset, end_offset FROM verse_annotations
		 WHERE surah = $1 AND ayah = $2 ORDER BY seq`,
		ref.Surah, ref.Ayah,
	)
	if err != nil {
		return types.AnnotatedVerse{}, fmt.Errorf("reference: query annotations %s: %w", ref, err)
	}
	v.Annotations, err = pgx.CollectRows(rows, scanAnnotation)
	if err != nil {
		return types.AnnotatedVerse{}, fmt.Errorf("reference: scan annotations %s: %w", ref, err)
	}
	return v, nil
}

// Verses implements [Lister]. It loads every verse with its annotations in
// surah/ayah order.
func (p *PostgresSource) Verses(ctx context.Context) ([]types.AnnotatedVerse, error) {
	rows, err := p.pool.Query(ctx, `SELECT surah, ayah, text FROM verses ORDER BY surah, ayah`)
	if err != nil {
		return nil, fmt.Errorf("reference: list verses: %w", err)
	}
	verses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AnnotatedVerse, error) {
		var v types.AnnotatedVerse
		err := row.Scan(&v.Verse.Surah, &v.Verse.Ayah, &v.Text)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("reference: scan verses: %w", err)
	}

	index := make(map[types.VerseReference]int, len(verses))
	for i, v := range verses {
		index[v.Verse] = i
	}

	rows, err = p.pool.Query(ctx,
		`SELECT surah, ayah, rule, start_offset, end_offset FROM verse_annotations
		 ORDER BY surah, ayah, seq`)
	if err != nil {
		return nil, fmt.Errorf("reference: list annotations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ref  types.VerseReference
			rule string
			ann  types.RuleAnnotation
		)
		if err := rows.Scan(&ref.Surah, &ref.Ayah, &rule, &ann.Start, &ann.End); err != nil {
			return nil, fmt.Errorf("reference: scan annotation: %w", err)
		}
		ann.Rule = types.Rule(rule)
		if i, ok := index[ref]; ok {
			verses[i].Annotations = append(verses[i].Annotations, ann)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reference: iterate annotations: %w", err)
	}
	return verses, nil
}

// Upsert stores v, replacing its text and all of its annotations in a single
// transaction.
func (p *PostgresSource) Upsert(ctx context.Context, v types.AnnotatedVerse) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reference: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO verses (surah, ayah, text) VALUES ($1, $2, $3)
		 ON CONFLICT (surah, ayah) DO UPDATE SET text = EXCLUDED.text`,
		v.Verse.Surah, v.Verse.Ayah, v.Text,
	); err != nil {
		return fmt.Errorf("reference: upsert verse %s: %w", v.Verse, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM verse_annotations WHERE surah = $1 AND ayah = $2`,
		v.Verse.Surah, v.Verse.Ayah,
	); err != nil {
		return fmt.Errorf("reference: clear annotations %s: %w", v.Verse, err)
	}

	batch := &pgx.Batch{}
	for i, a := range v.Annotations {
		batch.Queue(
			`INSERT INTO verse_annotations (surah, ayah, seq, rule, start_offset, end_offset)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			v.Verse.Surah, v.Verse.Ayah, i, string(a.Rule), a.Start, a.End,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("reference: insert annotations %s: %w", v.Verse, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reference: commit %s: %w", v.Verse, err)
	}
	return nil
}

func scanAnnotation(row pgx.CollectableRow) (types.RuleAnnotation, error) {
	var (
		a    types.RuleAnnotation
		rule string
	)
	err := row.Scan(&rule, &a.Start, &a.End)
	a.Rule = types.Rule(rule)
	return a, err
}
