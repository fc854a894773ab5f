// ABOUTME: Authors and attachments side tables with a lookup join table
// ABOUTME: Loaded alongside fetched articles and rewritten only when they differ

package articles

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/models"
)

func (s *Store) attachRelated(ctx context.Context, db sqlx.QueryerContext, articles []models.Article, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	index := make(map[string]int, len(articles))
	for i, a := range articles {
		index[a.ArticleID] = i
	}

	for _, batch := range chunk(ids, queryChunkSize) {
		query, args, err := sq.Select("l.article_id AS article_id", "au.author_id AS author_id", "au.name AS name", "au.url AS url",
			"au.avatar_url AS avatar_url", "au.email_address AS email_address").
			From("authors_lookup l").
			Join("authors au ON au.author_id = l.author_id").
			Where(sq.Eq{"l.article_id": batch}).
			OrderBy("l.article_id", "l.position").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build author query: %w", err)
		}
		var authors []authorRow
		if err := sqlx.SelectContext(ctx, db, &authors, query, args...); err != nil {
			return fmt.Errorf("failed to fetch authors: %w", err)
		}
		for _, r := range authors {
			i := index[r.ArticleID]
			articles[i].Authors = append(articles[i].Authors, models.Author{
				AuthorID: r.AuthorID, Name: r.Name, URL: r.URL, AvatarURL: r.AvatarURL, EmailAddress: r.EmailAddress,
			})
		}

		query, args, err = sq.Select("attachment_id", "article_id", "url", "mime_type", "title", "size_in_bytes", "duration_in_seconds").
			From("attachments").
			Where(sq.Eq{"article_id": batch}).
			OrderBy("article_id", "position").
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build attachment query: %w", err)
		}
		var attachments []attachmentRow
		if err := sqlx.SelectContext(ctx, db, &attachments, query, args...); err != nil {
			return fmt.Errorf("failed to fetch attachments: %w", err)
		}
		for _, r := range attachments {
			i := index[r.ArticleID]
			articles[i].Attachments = append(articles[i].Attachments, models.Attachment{
				AttachmentID: r.AttachmentID, URL: r.URL, MimeType: r.MimeType, Title: r.Title,
				SizeInBytes: r.SizeInBytes, DurationInSeconds: r.DurationInSeconds,
			})
		}
	}
	return nil
}

// writeRelated replaces the authors and attachments of one article.
func writeRelated(ctx context.Context, tx *sqlx.Tx, a models.Article) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM authors_lookup WHERE article_id = ?", a.ArticleID); err != nil {
		return fmt.Errorf("failed to clear authors: %w", err)
	}
	for i, au := range a.Authors {
		const upsert = `INSERT INTO authors (author_id, name, url, avatar_url, email_address)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(author_id) DO UPDATE SET avatar_url = excluded.avatar_url`
		if _, err := tx.ExecContext(ctx, upsert, au.AuthorID, au.Name, au.URL, au.AvatarURL, au.EmailAddress); err != nil {
			return fmt.Errorf("failed to save author: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO authors_lookup (author_id, article_id, position) VALUES (?, ?, ?)",
			au.AuthorID, a.ArticleID, i); err != nil {
			return fmt.Errorf("failed to link author: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE article_id = ?", a.ArticleID); err != nil {
		return fmt.Errorf("failed to clear attachments: %w", err)
	}
	for i, at := range a.Attachments {
		const insert = `INSERT OR REPLACE INTO attachments
			(attachment_id, article_id, url, mime_type, title, size_in_bytes, duration_in_seconds, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, at.AttachmentID, a.ArticleID, at.URL, at.MimeType, at.Title,
			at.SizeInBytes, at.DurationInSeconds, i); err != nil {
			return fmt.Errorf("failed to save attachment: %w", err)
		}
	}
	return nil
}

func relatedEqual(a, b models.Article) bool {
	if len(a.Authors) != len(b.Authors) || len(a.Attachments) != len(b.Attachments) {
		return false
	}
	for i := range a.Authors {
		if a.Authors[i] != b.Authors[i] {
			return false
		}
	}
	for i := range a.Attachments {
		if a.Attachments[i] != b.Attachments[i] {
			return false
		}
	}
	return true
}

// deleteArticles removes articles along with their search rows and side-table rows.
// Statuses are kept.
func deleteArticles(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	for _, batch := range chunk(ids, queryChunkSize) {
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		stmts := []sq.Sqlizer{
			sq.Delete("search").Where(sq.Expr(
				"rowid IN (SELECT search_row_id FROM articles WHERE article_id IN ("+sq.Placeholders(len(batch))+"))", args...)),
			sq.Delete("authors_lookup").Where(sq.Eq{"article_id": batch}),
			sq.Delete("attachments").Where(sq.Eq{"article_id": batch}),
			sq.Delete("articles").Where(sq.Eq{"article_id": batch}),
		}
		for _, stmt := range stmts {
			query, args, err := stmt.ToSql()
			if err != nil {
				return fmt.Errorf("failed to build delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to delete articles: %w", err)
			}
		}
	}
	return nil
}
