package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
	"github.com/seweryn-pilarska/email-reply/pkg/outbox"
)

const aggregateType = "workflow_run"

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("workflow run not found")

// Event 随运行记录一起写入 outbox 的事件
type Event struct {
	RoutingKey string
	Payload    any
}

type RunRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
}

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{
		db:         db,
		outboxRepo: outbox.NewRepository(db),
	}
}

const runColumns = `run_id, request_id, trace_id, source, intent, handler, status, error,
		reply_chars, latency_ms, created_at`

// Record 在同一事务中写入 workflow_runs 和 outbox 事件
func (r *RunRepository) Record(ctx context.Context, run *model.WorkflowRun, events ...Event) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := r.InsertTx(ctx, tx, run)
	if err != nil {
		return err
	}
	// 该请求已有记录：事件已随第一次写入进入 outbox
	if !inserted {
		return nil
	}
	for _, ev := range events {
		if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, aggregateType, run.RunID, ev.RoutingKey, ev.Payload); err != nil {
			return fmt.Errorf("failed to insert %s to outbox: %w", ev.RoutingKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertTx 在事务中插入运行记录。同一 request_id 已有记录时不插入并返回 false
func (r *RunRepository) InsertTx(ctx context.Context, tx pgx.Tx, run *model.WorkflowRun) (bool, error) {
	query := `
		INSERT INTO workflow_runs (run_id, request_id, trace_id, source, intent, handler, status, error,
		                           reply_chars, latency_ms)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`

	err := otel.DB(ctx, "insert", "workflow_runs", query, func(ctx context.Context) error {
		return tx.QueryRow(ctx, query,
			run.RunID,
			run.RequestID,
			run.TraceID,
			run.Source,
			string(run.Intent),
			string(run.Handler),
			run.Status,
			run.Error,
			run.ReplyChars,
			run.LatencyMs,
		).Scan(&run.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert workflow run: %w", err)
	}
	return true, nil
}

func (r *RunRepository) FindByID(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	return r.findOne(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE run_id = $1`, runID)
}

// FindByRequestID 异步请求的运行记录，不存在时返回 ErrRunNotFound
func (r *RunRepository) FindByRequestID(ctx context.Context, requestID string) (*model.WorkflowRun, error) {
	return r.findOne(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE request_id = $1`, requestID)
}

func (r *RunRepository) findOne(ctx context.Context, query string, arg string) (*model.WorkflowRun, error) {
	var run *model.WorkflowRun
	err := otel.DB(ctx, "select", "workflow_runs", query, func(ctx context.Context) error {
		var scanErr error
		run, scanErr = scanRun(r.db.QueryRow(ctx, query, arg))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow run: %w", err)
	}
	return run, nil
}

// ListRecent 按时间倒序返回最近的运行记录
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*model.WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM workflow_runs ORDER BY created_at DESC LIMIT $1`

	var runs []*model.WorkflowRun
	err := otel.DB(ctx, "select", "workflow_runs", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			run, err := scanRun(rows)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*model.WorkflowRun, error) {
	var (
		run       model.WorkflowRun
		requestID *string
		errText   *string
		intent    string
		handler   string
	)
	if err := row.Scan(
		&run.RunID,
		&requestID,
		&run.TraceID,
		&run.Source,
		&intent,
		&handler,
		&run.Status,
		&errText,
		&run.ReplyChars,
		&run.LatencyMs,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}
	if requestID != nil {
		run.RequestID = *requestID
	}
	if errText != nil {
		run.Error = *errText
	}
	run.Intent = model.Intent(intent)
	run.Handler = model.Handler(handler)
	return &run, nil
}
