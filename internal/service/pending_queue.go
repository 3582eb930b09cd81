package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"campus-portal/internal/academic"
	"campus-portal/pkg/redis"
)

// SyncRequest 一个学期的待确认同步请求
//
// 保存原始时段而非投影结果，接受时重新投影，学期表更新后也能得到最新时间。
type SyncRequest struct {
	Semester   string                        `json:"semester"`
	Reason     string                        `json:"reason"`
	Courses    []string                      `json:"courses"`
	Language   string                        `json:"language"`
	Sections   []academic.CourseTimeslotData `json:"sections"`
	EventCount int                           `json:"event_count"` // 检查时的投影事件数
}

// PendingQueue 每个用户的待确认同步请求，同一学期只保留最新一条
type PendingQueue interface {
	Put(ctx context.Context, userID string, req SyncRequest) error
	// List 按学期升序返回
	List(ctx context.Context, userID string) ([]SyncRequest, error)
	// Get 不存在时返回 (nil, nil)
	Get(ctx context.Context, userID, semester string) (*SyncRequest, error)
	// Remove 返回该学期是否在队列中
	Remove(ctx context.Context, userID, semester string) (bool, error)
}

// ── Redis 实现 ──

type redisPendingQueue struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPendingQueue 以 Redis Hash 保存待确认请求，ttl 到期后整个队列过期
func NewRedisPendingQueue(client *redis.Client, ttl time.Duration) PendingQueue {
	return &redisPendingQueue{client: client, ttl: ttl}
}

func (q *redisPendingQueue) Put(ctx context.Context, userID string, req SyncRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化同步请求失败: %w", err)
	}
	return q.client.PutPending(ctx, userID, req.Semester, payload, q.ttl)
}

func (q *redisPendingQueue) List(ctx context.Context, userID string) ([]SyncRequest, error) {
	raw, err := q.client.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]SyncRequest, 0, len(raw))
	for semester, payload := range raw {
		var req SyncRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("学期 %s 的同步请求已损坏: %w", semester, err)
		}
		out = append(out, req)
	}
	sortBySemester(out)
	return out, nil
}

func (q *redisPendingQueue) Get(ctx context.Context, userID, semester string) (*SyncRequest, error) {
	payload, err := q.client.GetPending(ctx, userID, semester)
	if err != nil || payload == nil {
		return nil, err
	}
	var req SyncRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("学期 %s 的同步请求已损坏: %w", semester, err)
	}
	return &req, nil
}

func (q *redisPendingQueue) Remove(ctx context.Context, userID, semester string) (bool, error) {
	return q.client.RemovePending(ctx, userID, semester)
}

// ── 进程内实现（未配置 Redis 时使用） ──

type memoryPendingQueue struct {
	mu    sync.Mutex
	users map[string]map[string]SyncRequest
}

// NewMemoryPendingQueue 创建进程内队列，重启后丢失
func NewMemoryPendingQueue() PendingQueue {
	return &memoryPendingQueue{users: make(map[string]map[string]SyncRequest)}
}

func (q *memoryPendingQueue) Put(_ context.Context, userID string, req SyncRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.users[userID]
	if !ok {
		m = make(map[string]SyncRequest)
		q.users[userID] = m
	}
	m[req.Semester] = req
	return nil
}

func (q *memoryPendingQueue) List(_ context.Context, userID string) ([]SyncRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]SyncRequest, 0, len(q.users[userID]))
	for _, req := range q.users[userID] {
		out = append(out, req)
	}
	sortBySemester(out)
	return out, nil
}

func (q *memoryPendingQueue) Get(_ context.Context, userID, semester string) (*SyncRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.users[userID][semester]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (q *memoryPendingQueue) Remove(_ context.Context, userID, semester string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.users[userID][semester]; !ok {
		return false, nil
	}
	delete(q.users[userID], semester)
	return true, nil
}

func sortBySemester(reqs []SyncRequest) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Semester < reqs[j].Semester })
}
