package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/BookshelfGo/pkg/database"
	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
)

const sqlStateForeignKeyViolation = "23503"

// ApplyVote reads the held vote under a row lock and toggles, switches or
// inserts it. The rating aggregate is not touched.
func (s *Store) ApplyVote(ctx context.Context, reviewID, userID string, intent domain.VoteType) (*domain.VoteType, error) {
	var next *domain.VoteType

	err := database.RunInTx(ctx, s.pool, s.txOpts, func(tx pgx.Tx) error {
		const selectQuery = `
			SELECT vote_type FROM review_votes
			WHERE review_id = $1 AND user_id = $2
			FOR UPDATE`

		var (
			current *domain.VoteType
			held    string
		)
		err := tx.QueryRow(ctx, selectQuery, reviewID, userID).Scan(&held)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("get vote: %w", err)
		default:
			v := domain.VoteType(held)
			current = &v
		}

		next = domain.NextVote(current, intent)
		if next == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM review_votes WHERE review_id = $1 AND user_id = $2`, reviewID, userID); err != nil {
				return fmt.Errorf("delete vote: %w", err)
			}
			return nil
		}

		const upsertQuery = `
			INSERT INTO review_votes (review_id, user_id, vote_type)
			VALUES ($1, $2, $3)
			ON CONFLICT (review_id, user_id) DO UPDATE SET vote_type = EXCLUDED.vote_type`

		if _, err := tx.Exec(ctx, upsertQuery, reviewID, userID, string(*next)); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == sqlStateForeignKeyViolation {
				return apperrors.NotFound("review", reviewID)
			}
			return fmt.Errorf("upsert vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// TallyVotes counts likes and dislikes for every review id with a single
// grouped query and picks out the viewer's own vote.
func (s *Store) TallyVotes(ctx context.Context, reviewIDs []string, viewerID string) (_ map[string]domain.VoteTally, err error) {
	tallies := make(map[string]domain.VoteTally, len(reviewIDs))
	ids := make([]string, 0, len(reviewIDs))
	for _, id := range reviewIDs {
		if id == "" {
			continue
		}
		if _, dup := tallies[id]; dup {
			continue
		}
		tallies[id] = domain.VoteTally{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return tallies, nil
	}

	const query = `
		SELECT review_id,
		       COUNT(*) FILTER (WHERE vote_type = 'LIKE'),
		       COUNT(*) FILTER (WHERE vote_type = 'DISLIKE'),
		       MAX(CASE WHEN user_id = $2 THEN vote_type END)
		FROM review_votes
		WHERE review_id = ANY($1)
		GROUP BY review_id`

	ctx, end := database.TraceQuery(ctx, "TallyVotes", query)
	defer func() { end(err) }()

	rows, err := s.pool.Query(ctx, query, ids, viewerID)
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         string
			tally      domain.VoteTally
			viewerVote *string
		)
		if err := rows.Scan(&id, &tally.Likes, &tally.Dislikes, &viewerVote); err != nil {
			return nil, fmt.Errorf("scan vote tally: %w", err)
		}
		if viewerID != "" && viewerVote != nil {
			v := domain.VoteType(*viewerVote)
			tally.ViewerVote = &v
		}
		tallies[id] = tally
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote tallies: %w", err)
	}

	return tallies, nil
}
