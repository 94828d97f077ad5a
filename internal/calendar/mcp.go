package calendar

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

	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/logger"
	"github.com/seweryn-pilarska/email-reply/pkg/trace"
)

// MCPClient 调用 calendar MCP server 的 HTTP 接口
type MCPClient struct {
	baseURL    string
	calendarID string
	httpClient *http.Client
	guard      guarded
	logger     *zap.Logger
}

func NewMCPClient(cfg Config, log *zap.Logger) *MCPClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &MCPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		calendarID: cfg.calendarID(),
		// 超时由 guard 的 context 控制
		httpClient: &http.Client{},
		guard:      newGuarded(ProviderMCP, cfg, log),
		logger:     log,
	}
}

// CreateEvent POST /calendars/{id}/events。只有 201 Created 视为成功。
func (c *MCPClient) CreateEvent(ctx context.Context, event Event, sendNotifications bool) (*Created, error) {
	return c.guard.create(ctx, event, func(ctx context.Context) (*Created, error) {
		body, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}

		endpoint := fmt.Sprintf("%s/calendars/%s/events?send_notifications=%s",
			c.baseURL, url.PathEscape(c.calendarID), strconv.FormatBool(sendNotifications))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		// 传播 trace_id
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName(), traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			detail := readDetail(resp.Body)
			logger.WithTrace(ctx, c.logger).Warn("Calendar event not created",
				zap.Int("status", resp.StatusCode),
				zap.String("detail", detail),
			)
			return nil, &StatusError{StatusCode: resp.StatusCode, Detail: detail}
		}

		var created Created
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode created event: %w", err)
		}
		return &created, nil
	})
}

// readDetail 读取错误响应中的 detail 字段（FastAPI 格式），否则返回截断后的原文
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(body.Detail)
		return string(b)
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
