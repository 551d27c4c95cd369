package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client 报警推送客户端
// 将报警请求 POST 到下游推送网关，实际的 APNs/短信送达由网关负责
type Client struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewClient 创建推送客户端
func NewClient(url string, timeoutSec, retryCount int, logger *zap.Logger) *Client {
	client := resty.New().
		SetTimeout(time.Duration(timeoutSec) * time.Second).
		SetRetryCount(retryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// SendAlert 推送一条心率报警
func (c *Client) SendAlert(ctx context.Context, alert *models.AlertRequest) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(alert).
		Post(c.url)

	if err != nil {
		c.logger.Error("Alert webhook call failed",
			zap.String("wearer_id", alert.WearerID),
			zap.String("severity", string(alert.Severity)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call alert webhook: %w", err)
	}

	if !resp.IsSuccess() {
		c.logger.Error("Alert webhook returned error",
			zap.String("wearer_id", alert.WearerID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("alert webhook error: status %d", resp.StatusCode())
	}

	c.logger.Info("Alert delivered to webhook",
		zap.String("wearer_id", alert.WearerID),
		zap.String("severity", string(alert.Severity)),
		zap.Int("delta", alert.Delta),
	)

	return nil
}
