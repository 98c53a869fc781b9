// Package publish implements the publisher collaborator: it records an
// acquired artifact and its metadata in a destination content store.
package publish

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

// PostgresPublisher writes posts into a WordPress-shaped Postgres schema:
// a posts table plus the terms/term_taxonomy/term_relationships triple
// that models destinations (categories) and their content counts.
type PostgresPublisher struct {
	logger *zap.Logger
	db     *sql.DB
	prefix string
}

// NewPostgresPublisher connects to the destination store. prefix is the
// table name prefix (for example "wp_").
func NewPostgresPublisher(dsn, prefix string, logger *zap.Logger) (*PostgresPublisher, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination store: %w", err)
	}
	if prefix == "" {
		prefix = "wp_"
	}
	return &PostgresPublisher{
		logger: logger.Named("publisher"),
		db:     db,
		prefix: prefix,
	}, nil
}

// NewPostgresPublisherFromDB wraps an existing connection. Used by tests.
func NewPostgresPublisherFromDB(db *sql.DB, prefix string, logger *zap.Logger) *PostgresPublisher {
	if prefix == "" {
		prefix = "wp_"
	}
	return &PostgresPublisher{
		logger: logger.Named("publisher"),
		db:     db,
		prefix: prefix,
	}
}

// Destinations implements pipeline.Publisher: it lists the category
// destinations that already hold content, ordered by name.
func (p *PostgresPublisher) Destinations(ctx context.Context) ([]model.Destination, error) {
	query := fmt.Sprintf(`
		SELECT t.term_id, t.name, t.slug, tt.count
		FROM %sterms t
		INNER JOIN %sterm_taxonomy tt ON t.term_id = tt.term_id
		WHERE tt.taxonomy = 'category' AND tt.count > 0
		ORDER BY t.name ASC`, p.prefix, p.prefix)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var destinations []model.Destination
	for rows.Next() {
		var d model.Destination
		if err := rows.Scan(&d.ID, &d.Name, &d.Slug, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		destinations = append(destinations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	p.logger.Info("Loaded destinations", zap.Int("count", len(destinations)))
	return destinations, nil
}

// Publish implements pipeline.Publisher: it inserts the post, attaches
// the item metadata, and links the destination, all in one transaction.
func (p *PostgresPublisher) Publish(ctx context.Context, item model.Item, destinationID int64, hostedRef string) (model.PublishReceipt, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PublishReceipt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	title := cleanText(item.Title)
	if title == "" {
		title = "Untitled"
	}

	var postID int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %sposts (
			post_author, post_date, post_title, post_name,
			post_status, post_type, post_modified, guid
		) VALUES (1, $1, $2, $3, 'publish', 'post', $1, '')
		RETURNING id`, p.prefix),
		now, title, slugify(title),
	).Scan(&postID)
	if err != nil {
		return model.PublishReceipt{}, fmt.Errorf("failed to insert post: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %sposts SET guid = $1 WHERE id = $2", p.prefix),
		fmt.Sprintf("/?p=%d", postID), postID,
	); err != nil {
		return model.PublishReceipt{}, fmt.Errorf("failed to set post guid: %w", err)
	}

	meta := []struct {
		key   string
		value string
	}{
		{"source_ref", item.Ref},
		{"duration", item.Duration},
		{"uploader", item.Uploader},
		{"thumbnail", item.Thumbnail},
		{"hosted_ref", hostedRef},
	}
	for _, m := range meta {
		if m.value == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %spostmeta (post_id, meta_key, meta_value)
			VALUES ($1, $2, $3)`, p.prefix),
			postID, m.key, m.value,
		); err != nil {
			return model.PublishReceipt{}, fmt.Errorf("failed to insert post meta %s: %w", m.key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %sterm_relationships (object_id, term_taxonomy_id)
		VALUES ($1, $2)`, p.prefix),
		postID, destinationID,
	); err != nil {
		return model.PublishReceipt{}, fmt.Errorf("failed to link destination: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %sterm_taxonomy SET count = count + 1 WHERE term_id = $1`, p.prefix),
		destinationID,
	); err != nil {
		return model.PublishReceipt{}, fmt.Errorf("failed to bump destination count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.PublishReceipt{}, fmt.Errorf("failed to commit publish: %w", err)
	}

	p.logger.Info("Item published",
		zap.Int64("post_id", postID),
		zap.Int64("destination_id", destinationID))
	return model.PublishReceipt{PostID: postID}, nil
}

// Close closes the destination store connection
func (p *PostgresPublisher) Close() error {
	return p.db.Close()
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

func cleanText(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, " "))
}

func slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 190 {
		slug = slug[:190]
	}
	return slug
}
