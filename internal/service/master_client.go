package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campus-portal/internal/dto"
	"campus-portal/internal/model"
)

const masterResponseLimit = 32 << 20 // 32MB

// envelope 主库统一响应结构
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type httpMasterClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPMasterClient 通过 HTTP 访问主库复制端点，token 为副本 Token
func NewHTTPMasterClient(baseURL, token string, timeout time.Duration) MasterClient {
	return &httpMasterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpMasterClient) Push(ctx context.Context, rows []dto.PushRow) ([]model.EventRecord, error) {
	body, err := json.Marshal(dto.PushRequest{Rows: rows})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/replication/events/push", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp dto.PushResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Conflicts, nil
}

func (c *httpMasterClient) Pull(ctx context.Context, cp dto.CheckpointPayload, batchSize int) (*dto.PullResponse, error) {
	q := url.Values{}
	q.Set("batch_size", strconv.Itoa(batchSize))
	if cp.ID != "" || !cp.ServerTimestamp.IsZero() {
		q.Set("id", cp.ID)
		q.Set("server_timestamp", cp.ServerTimestamp.UTC().Format(time.RFC3339Nano))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/replication/events/pull?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp dto.PullResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpMasterClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求主库失败: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, masterResponseLimit)).Decode(&env); err != nil {
		return fmt.Errorf("主库响应无法解析 (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return fmt.Errorf("主库返回错误 (HTTP %d, code %d): %s", resp.StatusCode, env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("主库响应数据无法解析: %w", err)
	}
	return nil
}
