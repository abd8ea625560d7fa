package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"
	"freelancehub/pkg/otel"
	"freelancehub/pkg/outbox"
)

const projectColumns = `
	id, client_id, COALESCE(freelancer_id, ''), title, description, skills, budget,
	status, COALESCE(accepted_bid, ''), bids, milestones, version, created_at, updated_at
`

// ProjectRepository 把项目聚合存成一行（出价和里程碑是 JSONB 列），
// 事件与状态写在同一个事务里进入 outbox
type ProjectRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, outbox: outbox.NewRepository(db), logger: logger}
}

func (r *ProjectRepository) CreateProject(ctx context.Context, p model.Project, events []model.Event) error {
	ctx, span := otel.DBSpan(ctx, "postgresql", "insert", "projects")
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		bids, milestones, err := encodeChildren(p)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO projects (id, client_id, freelancer_id, title, description, skills, budget,
			                      status, accepted_bid, bids, milestones, version, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14)
		`, p.ID, p.ClientID, p.Freelancer, p.Title, p.Description, nonNilSlice(p.Skills), p.Budget,
			string(p.Status), p.AcceptedBid, bids, milestones, p.Version, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert project: %w", err)
		}
		return r.writeEvents(ctx, tx, events)
	})
	otel.EndDBSpan(span, err)
	return err
}

func (r *ProjectRepository) GetProject(ctx context.Context, id string) (model.Project, error) {
	ctx, span := otel.DBSpan(ctx, "postgresql", "select", "projects")
	row := r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	otel.EndDBSpan(span, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, ErrProjectNotFound
	}
	if err != nil {
		return model.Project{}, apperror.Wrap(err, apperror.CodeUnavailable, "failed to load project")
	}
	return p, nil
}

func (r *ProjectRepository) ListProjects(ctx context.Context, f ProjectFilter) ([]model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if f.Participant != "" {
		args = append(args, f.Participant)
		n := len(args)
		query += fmt.Sprintf(
			" AND (freelancer_id = $%d OR bids @> jsonb_build_array(jsonb_build_object('freelancer_id', $%d::text)))", n, n)
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	ctx, span := otel.DBSpan(ctx, "postgresql", "select", "projects")
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		otel.EndDBSpan(span, err)
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "failed to list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			otel.EndDBSpan(span, err)
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to scan project")
		}
		out = append(out, p)
	}
	err = rows.Err()
	otel.EndDBSpan(span, err)
	return out, err
}

// UpdateProject 条件更新：WHERE version = expectedVersion，影响行数为 0 时区分不存在和版本冲突
func (r *ProjectRepository) UpdateProject(ctx context.Context, next model.Project, expectedVersion int64, events []model.Event) error {
	ctx, span := otel.DBSpan(ctx, "postgresql", "update", "projects")
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		bids, milestones, err := encodeChildren(next)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE projects
			SET freelancer_id = NULLIF($2, ''), title = $3, description = $4, skills = $5, budget = $6,
			    status = $7, accepted_bid = NULLIF($8, ''), bids = $9, milestones = $10,
			    version = $11, updated_at = $12
			WHERE id = $1 AND version = $13
		`, next.ID, next.Freelancer, next.Title, next.Description, nonNilSlice(next.Skills), next.Budget,
			string(next.Status), next.AcceptedBid, bids, milestones, next.Version, next.UpdatedAt, expectedVersion)
		if err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check project: %w", err)
			}
			if !exists {
				return ErrProjectNotFound
			}
			return ErrConflict
		}
		return r.writeEvents(ctx, tx, events)
	})
	otel.EndDBSpan(span, err)
	return err
}

func (r *ProjectRepository) writeEvents(ctx context.Context, tx pgx.Tx, events []model.Event) error {
	for _, evt := range events {
		if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "project", evt.ProjectID, evt.Kind.RoutingKey(), evt); err != nil {
			return fmt.Errorf("write outbox event %s: %w", evt.Kind, err)
		}
	}
	return nil
}

// inTx 执行 fn 并提交；业务错误（apperror）原样返回，其余包装为 unavailable
func (r *ProjectRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return runInTx(ctx, r.db, r.logger, fn)
}

func runInTx(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	tx, err := db.Begin(ctx)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to begin transaction")
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Warn("Rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Wrap(err, apperror.CodeUnavailable, "database write failed")
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to commit transaction")
	}
	logger.Debug("Transaction committed", zap.Duration("took", time.Since(start)))
	return nil
}

func scanProject(row pgx.Row) (model.Project, error) {
	var (
		p          model.Project
		status     string
		budget     float64
		bids       []byte
		milestones []byte
	)
	err := row.Scan(
		&p.ID, &p.ClientID, &p.Freelancer, &p.Title, &p.Description, &p.Skills, &budget,
		&status, &p.AcceptedBid, &bids, &milestones, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Project{}, err
	}
	p.Status = model.ProjectStatus(status)
	p.Budget = budget
	if err := json.Unmarshal(bids, &p.Bids); err != nil {
		return model.Project{}, fmt.Errorf("decode bids: %w", err)
	}
	if err := json.Unmarshal(milestones, &p.Milestones); err != nil {
		return model.Project{}, fmt.Errorf("decode milestones: %w", err)
	}
	return p, nil
}

func encodeChildren(p model.Project) ([]byte, []byte, error) {
	bids, err := json.Marshal(nonNilSlice(p.Bids))
	if err != nil {
		return nil, nil, fmt.Errorf("encode bids: %w", err)
	}
	milestones, err := json.Marshal(nonNilSlice(p.Milestones))
	if err != nil {
		return nil, nil, fmt.Errorf("encode milestones: %w", err)
	}
	return bids, milestones, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
