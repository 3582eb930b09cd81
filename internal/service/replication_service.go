package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"campus-portal/internal/dto"
	"campus-portal/internal/model"
	"campus-portal/internal/repository"
	pkgerrors "campus-portal/pkg/errors"
)

// ── 复制模块业务错误 ──

var (
	ErrReplicationInvalidRow = errors.New("推送的记录无效")
)

const defaultPullBatch = 100

// ── ReplicationService 接口（主库端点） ─────────────────────
//
// 设计说明：
//   - Push：每行携带副本认为的主库版本，版本一致才写入，否则原样返回主库当前记录作为冲突
//   - Pull：按 (server_timestamp, id) 升序分页，检查点为上一批最后一条
//   - 删除以 _deleted 软删除行的形式复制
//   - 副本角色不提供端点，调用返回 ErrReadOnlyRole
// ─────────────────────────────────────────────────────────────

// ReplicationService 复制端点业务接口
type ReplicationService interface {
	Push(ctx context.Context, userID string, req *dto.PushRequest) (*dto.PushResponse, error)
	Pull(ctx context.Context, userID string, q *dto.PullQuery) (*dto.PullResponse, error)
}

type replicationService struct {
	repo   *repository.Repository
	role   repository.Role
	logger *zap.Logger
}

// NewReplicationService 创建 ReplicationService 实例
func NewReplicationService(repo *repository.Repository, role repository.Role, logger *zap.Logger) ReplicationService {
	return &replicationService{repo: repo, role: role, logger: logger}
}

// ════════════════════════════════════════════════════════════
// Push — 接收副本推送
// ════════════════════════════════════════════════════════════
//
// 流程：
//   1. 每行先经 Adapter 反序列化并校验重复规则，拒绝无法解析或无法展开的记录
//   2. 逐行按 assumed_master_version 写入，收集冲突

func (s *replicationService) Push(ctx context.Context, userID string, req *dto.PushRequest) (*dto.PushResponse, error) {
	if s.role != repository.RoleMaster {
		return nil, pkgerrors.ErrReadOnlyRole
	}

	// 1. 校验
	for _, row := range req.Rows {
		if row.NewDocumentState.ID == "" {
			return nil, fmt.Errorf("%w: 缺少 id", ErrReplicationInvalidRow)
		}
		e, err := s.repo.Adapter.Deserialize(row.NewDocumentState)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReplicationInvalidRow, err)
		}
		// 软删除行不再参与展开
		if row.NewDocumentState.Deleted {
			continue
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReplicationInvalidRow, err)
		}
	}

	// 2. 写入
	resp := &dto.PushResponse{Conflicts: []model.EventRecord{}}
	for _, row := range req.Rows {
		conflict, err := s.repo.Replication.ApplyPush(ctx, userID, row.AssumedMasterVersion, row.NewDocumentState)
		if err != nil {
			s.logger.Error("写入推送记录失败", zap.String("event_id", row.NewDocumentState.ID), zap.Error(err))
			return nil, err
		}
		if conflict != nil {
			resp.Conflicts = append(resp.Conflicts, *conflict)
		}
	}

	if len(resp.Conflicts) > 0 {
		s.logger.Info("推送存在版本冲突",
			zap.String("user_id", userID),
			zap.Int("rows", len(req.Rows)),
			zap.Int("conflicts", len(resp.Conflicts)),
		)
	}
	return resp, nil
}

// ════════════════════════════════════════════════════════════
// Pull — 按检查点拉取
// ════════════════════════════════════════════════════════════

func (s *replicationService) Pull(ctx context.Context, userID string, q *dto.PullQuery) (*dto.PullResponse, error) {
	if s.role != repository.RoleMaster {
		return nil, pkgerrors.ErrReadOnlyRole
	}
	batch := q.BatchSize
	if batch <= 0 {
		batch = defaultPullBatch
	}

	cp := repository.Checkpoint{ID: q.ID, ServerTimestamp: q.ServerTimestamp.UTC()}
	docs, err := s.repo.Replication.Since(ctx, userID, cp, batch)
	if err != nil {
		s.logger.Error("拉取记录失败", zap.Error(err))
		return nil, err
	}

	next := dto.CheckpointPayload{ID: q.ID, ServerTimestamp: q.ServerTimestamp}
	if len(docs) > 0 {
		last := docs[len(docs)-1]
		next = dto.CheckpointPayload{ID: last.ID, ServerTimestamp: last.ServerTimestamp}
	}
	return &dto.PullResponse{Documents: docs, Checkpoint: next}, nil
}

// ── ReplicationWorker（副本后台复制） ───────────────────────
//
// 设计说明：
//   - 由 cron 按 sync.schedule 触发，每轮先推后拉
//   - 推送冲突以主库为准强制覆盖本地；推送成功的行清除 dirty
//   - 拉取跳过本地仍为 dirty 的行（下一轮推送时再解决），直到返回空批次
//   - 失败只记日志，等待下一次触发；本地读写不受影响
//   - 上一轮未结束时跳过本轮
// ─────────────────────────────────────────────────────────────

// MasterClient 主库复制端点
type MasterClient interface {
	Push(ctx context.Context, rows []dto.PushRow) ([]model.EventRecord, error)
	Pull(ctx context.Context, cp dto.CheckpointPayload, batchSize int) (*dto.PullResponse, error)
}

// ReplicationWorker 副本复制任务
type ReplicationWorker struct {
	repo      *repository.Repository
	client    MasterClient
	userID    string
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger

	cron    *cron.Cron
	running atomic.Bool
}

// NewReplicationWorker 创建复制任务
func NewReplicationWorker(repo *repository.Repository, client MasterClient, userID string, batchSize int, timeout time.Duration, logger *zap.Logger) *ReplicationWorker {
	if batchSize <= 0 {
		batchSize = defaultPullBatch
	}
	return &ReplicationWorker{
		repo:      repo,
		client:    client,
		userID:    userID,
		batchSize: batchSize,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "replication")),
		cron:      cron.New(),
	}
}

// Start 按 schedule（如 "@every 30s"）启动定时复制，并立即执行一轮
func (w *ReplicationWorker) Start(schedule string) error {
	if _, err := w.cron.AddFunc(schedule, w.tick); err != nil {
		return fmt.Errorf("无效的复制周期 %q: %w", schedule, err)
	}
	w.cron.Start()
	go w.tick()
	return nil
}

// Stop 停止调度并等待正在执行的一轮结束
func (w *ReplicationWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *ReplicationWorker) tick() {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Warn("复制失败，等待下次触发", zap.Error(err))
	}
}

// ════════════════════════════════════════════════════════════
// RunOnce — 一轮推送 + 拉取
// ════════════════════════════════════════════════════════════

func (w *ReplicationWorker) RunOnce(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug("上一轮复制尚未结束，跳过")
		return nil
	}
	defer w.running.Store(false)

	pushed, err := w.push(ctx)
	if err != nil {
		return fmt.Errorf("推送失败: %w", err)
	}
	pulled, err := w.pull(ctx)
	if err != nil {
		return fmt.Errorf("拉取失败: %w", err)
	}
	if pushed > 0 || pulled > 0 {
		w.logger.Info("复制完成", zap.Int("pushed", pushed), zap.Int("pulled", pulled))
	}
	return nil
}

// push 分批推送 dirty 行，返回推送行数
func (w *ReplicationWorker) push(ctx context.Context) (int, error) {
	total := 0
	for {
		dirty, err := w.repo.Replication.Dirty(ctx, w.userID, w.batchSize)
		if err != nil {
			return total, err
		}
		if len(dirty) == 0 {
			return total, nil
		}

		rows := make([]dto.PushRow, 0, len(dirty))
		for _, rec := range dirty {
			rows = append(rows, dto.PushRow{AssumedMasterVersion: rec.Version, NewDocumentState: rec})
		}
		conflicts, err := w.client.Push(ctx, rows)
		if err != nil {
			return total, err
		}

		// 冲突：主库胜出
		if err := w.repo.Replication.ApplyRemote(ctx, w.userID, conflicts, true); err != nil {
			return total, err
		}
		conflicted := make(map[string]bool, len(conflicts))
		for _, c := range conflicts {
			conflicted[c.ID] = true
		}
		for _, rec := range dirty {
			if conflicted[rec.ID] {
				continue
			}
			if err := w.repo.Replication.MarkPushed(ctx, rec); err != nil {
				return total, err
			}
		}
		total += len(dirty)

		if len(conflicts) > 0 {
			w.logger.Info("推送冲突已按主库覆盖", zap.Int("conflicts", len(conflicts)))
		}
		if len(dirty) < w.batchSize {
			return total, nil
		}
	}
}

// pull 从检查点开始拉取直到空批次，返回拉取行数
func (w *ReplicationWorker) pull(ctx context.Context) (int, error) {
	cp, err := w.repo.Replication.GetCheckpoint(ctx, w.userID)
	if err != nil {
		return 0, err
	}
	var cur dto.CheckpointPayload
	if cp != nil {
		cur = dto.CheckpointPayload{ID: cp.ID, ServerTimestamp: cp.ServerTimestamp}
	}

	total := 0
	for {
		resp, err := w.client.Pull(ctx, cur, w.batchSize)
		if err != nil {
			return total, err
		}
		if len(resp.Documents) == 0 {
			return total, nil
		}
		if err := w.repo.Replication.ApplyRemote(ctx, w.userID, resp.Documents, false); err != nil {
			return total, err
		}
		cur = resp.Checkpoint
		if err := w.repo.Replication.SaveCheckpoint(ctx, w.userID, repository.Checkpoint{
			ID:              cur.ID,
			ServerTimestamp: cur.ServerTimestamp.UTC(),
		}); err != nil {
			return total, err
		}
		total += len(resp.Documents)
		if len(resp.Documents) < w.batchSize {
			return total, nil
		}
	}
}
