package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"
	"freelancehub/pkg/otel"
	"freelancehub/pkg/outbox"
)

const reviewColumns = `id, project_id, reviewer_id, freelancer_id, rating, comment, response, created_at, responded_at`

type ReviewRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewReviewRepository(db *pgxpool.Pool, logger *zap.Logger) *ReviewRepository {
	return &ReviewRepository{db: db, outbox: outbox.NewRepository(db), logger: logger}
}

// CreateReview relies on UNIQUE (project_id, reviewer_id) for duplicate detection.
func (r *ReviewRepository) CreateReview(ctx context.Context, rv model.Review, events []model.Event) error {
	ctx, span := otel.DBSpan(ctx, "postgresql", "insert", "reviews")
	err := runInTx(ctx, r.db, r.logger, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reviews (id, project_id, reviewer_id, freelancer_id, rating, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rv.ID, rv.ProjectID, rv.Reviewer, rv.Freelancer, rv.Rating, rv.Comment, rv.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateReview
			}
			return fmt.Errorf("insert review: %w", err)
		}
		for _, evt := range events {
			if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "project", evt.ProjectID, evt.Kind.RoutingKey(), evt); err != nil {
				return fmt.Errorf("write outbox event: %w", err)
			}
		}
		return nil
	})
	otel.EndDBSpan(span, err)
	return err
}

func (r *ReviewRepository) GetReview(ctx context.Context, id string) (model.Review, error) {
	rv, err := scanReview(r.db.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Review{}, ErrReviewNotFound
	}
	if err != nil {
		return model.Review{}, apperror.Wrap(err, apperror.CodeUnavailable, "failed to load review")
	}
	return rv, nil
}

// SetResponse only writes when no response exists yet.
func (r *ReviewRepository) SetResponse(ctx context.Context, id, response string, at time.Time) (model.Review, error) {
	rv, err := scanReview(r.db.QueryRow(ctx, `
		UPDATE reviews SET response = $2, responded_at = $3
		WHERE id = $1 AND response IS NULL
		RETURNING `+reviewColumns, id, response, at))
	if err == nil {
		return rv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Review{}, apperror.Wrap(err, apperror.CodeUnavailable, "failed to update review")
	}
	if _, getErr := r.GetReview(ctx, id); getErr != nil {
		return model.Review{}, getErr
	}
	return model.Review{}, ErrAlreadyResponded
}

func (r *ReviewRepository) ListByFreelancer(ctx context.Context, freelancerID string) ([]model.Review, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE freelancer_id = $1
		ORDER BY created_at DESC
	`, freelancerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "failed to list reviews")
	}
	defer rows.Close()

	var out []model.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to scan review")
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *ReviewRepository) RatingsFor(ctx context.Context, freelancerID string) ([]int, error) {
	rows, err := r.db.Query(ctx, `SELECT rating FROM reviews WHERE freelancer_id = $1`, freelancerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "failed to load ratings")
	}
	ratings, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to scan ratings")
	}
	return ratings, nil
}

func scanReview(row pgx.Row) (model.Review, error) {
	var rv model.Review
	err := row.Scan(&rv.ID, &rv.ProjectID, &rv.Reviewer, &rv.Freelancer, &rv.Rating, &rv.Comment,
		&rv.Response, &rv.CreatedAt, &rv.RespondedAt)
	return rv, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
