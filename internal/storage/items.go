package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hndaily/dailyfeed/internal/core/domain"
	"github.com/hndaily/dailyfeed/internal/score"
)

const itemColumns = `hn_id, date, title, url, domain, author, hn_score, descendants, hn_time,
	fetched_at, summary_short, summary_long, recommend_reason, global_score, tags,
	usage_prompt_tokens, usage_completion_tokens, usage_total_tokens,
	status, error_reason, updated_at`

const upsertItemSQL = `INSERT INTO items (` + itemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	ON CONFLICT (date, hn_id) DO UPDATE SET
		title = excluded.title,
		url = excluded.url,
		domain = excluded.domain,
		author = excluded.author,
		hn_score = excluded.hn_score,
		descendants = excluded.descendants,
		hn_time = excluded.hn_time,
		fetched_at = excluded.fetched_at,
		summary_short = excluded.summary_short,
		summary_long = excluded.summary_long,
		recommend_reason = excluded.recommend_reason,
		global_score = excluded.global_score,
		tags = excluded.tags,
		usage_prompt_tokens = excluded.usage_prompt_tokens,
		usage_completion_tokens = excluded.usage_completion_tokens,
		usage_total_tokens = excluded.usage_total_tokens,
		status = excluded.status,
		error_reason = excluded.error_reason,
		updated_at = excluded.updated_at`

// UpsertItem writes the full processing state for one (date, hn_id) record,
// overwriting any previous attempt.
func (db *DB) UpsertItem(ctx context.Context, item *domain.FeedItem) error {
	_, err := db.q.Exec(ctx, upsertItemSQL,
		item.HNID,
		item.Date,
		item.Title,
		toText(item.URL),
		toText(item.Domain),
		toText(item.By),
		toInt4(item.HNScore),
		toInt4(item.Descendants),
		toInt8(item.HNTime),
		item.FetchedAt,
		toText(item.SummaryShort),
		toText(item.SummaryLong),
		toText(item.RecommendReason),
		toInt4(item.GlobalScore),
		toText(item.Tags),
		toInt4(item.UsagePromptTokens),
		toInt4(item.UsageCompletionTokens),
		toInt4(item.UsageTotalTokens),
		item.Status,
		toText(item.ErrorReason),
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", item.HNID, err)
	}

	return nil
}

// GetStatesByIDs returns existing processing states for the given date and id
// set in a single batched query. Missing ids are absent from the map.
func (db *DB) GetStatesByIDs(ctx context.Context, date string, ids []int64) (map[int64]*domain.FeedItem, error) {
	states := make(map[int64]*domain.FeedItem, len(ids))
	if len(ids) == 0 {
		return states, nil
	}

	rows, err := db.q.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE date = $1 AND hn_id = ANY($2)`,
		date, ids)
	if err != nil {
		return nil, fmt.Errorf("get states by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}

		states[item.HNID] = item
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}

	return states, nil
}

// GetItemsByDate returns all items for a date ordered by descending global
// score. Unscored (error) items sort last.
func (db *DB) GetItemsByDate(ctx context.Context, date string) ([]*domain.FeedItem, error) {
	rows, err := db.q.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE date = $1
		 ORDER BY global_score DESC NULLS LAST, hn_id ASC`,
		date)
	if err != nil {
		return nil, fmt.Errorf("get items by date: %w", err)
	}
	defer rows.Close()

	var items []*domain.FeedItem

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

// GetCalibrationItems projects the day's scored records for the calibrator.
func (db *DB) GetCalibrationItems(ctx context.Context, date string) ([]score.CalibrationItem, error) {
	rows, err := db.q.Query(ctx,
		`SELECT hn_id, global_score, hn_score, descendants FROM items
		 WHERE date = $1 AND global_score IS NOT NULL`,
		date)
	if err != nil {
		return nil, fmt.Errorf("get calibration items: %w", err)
	}
	defer rows.Close()

	var items []score.CalibrationItem

	for rows.Next() {
		var (
			item        score.CalibrationItem
			hnScore     pgtype.Int4
			descendants pgtype.Int4
		)

		if err := rows.Scan(&item.HNID, &item.GlobalScore, &hnScore, &descendants); err != nil {
			return nil, fmt.Errorf("scan calibration item: %w", err)
		}

		item.HNScore = fromInt4(hnScore)
		item.Descendants = fromInt4(descendants)

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calibration items: %w", err)
	}

	return items, nil
}

// UpdateGlobalScore overwrites the global score of one existing record. The
// calibrator never touches any other field.
func (db *DB) UpdateGlobalScore(ctx context.Context, date string, hnID int64, newScore int, updatedAt time.Time) error {
	tag, err := db.q.Exec(ctx,
		`UPDATE items SET global_score = $1, updated_at = $2 WHERE date = $3 AND hn_id = $4`,
		newScore, updatedAt, date, hnID)
	if err != nil {
		return fmt.Errorf("update global score for %d: %w", hnID, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update global score for %d: no such record", hnID)
	}

	return nil
}

func scanItem(rows pgx.Rows) (*domain.FeedItem, error) {
	var (
		item                                                     domain.FeedItem
		url, dom, author                                         pgtype.Text
		hnScore, descendants                                     pgtype.Int4
		hnTime                                                   pgtype.Int8
		summaryShort, summaryLong, recommendReason, tags, errRsn pgtype.Text
		globalScore, promptTok, completionTok, totalTok          pgtype.Int4
	)

	err := rows.Scan(
		&item.HNID, &item.Date, &item.Title, &url, &dom, &author,
		&hnScore, &descendants, &hnTime, &item.FetchedAt,
		&summaryShort, &summaryLong, &recommendReason, &globalScore, &tags,
		&promptTok, &completionTok, &totalTok,
		&item.Status, &errRsn, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.URL = fromText(url)
	item.Domain = fromText(dom)
	item.By = fromText(author)
	item.HNScore = fromInt4(hnScore)
	item.Descendants = fromInt4(descendants)
	item.HNTime = fromInt8(hnTime)
	item.SummaryShort = fromText(summaryShort)
	item.SummaryLong = fromText(summaryLong)
	item.RecommendReason = fromText(recommendReason)
	item.GlobalScore = fromInt4(globalScore)
	item.Tags = fromText(tags)
	item.UsagePromptTokens = fromInt4(promptTok)
	item.UsageCompletionTokens = fromInt4(completionTok)
	item.UsageTotalTokens = fromInt4(totalTok)
	item.ErrorReason = fromText(errRsn)

	return &item, nil
}
