/*
 * @module service/monitoring/notification
 * @description 告警通知器实现：控制台、Webhook 与 Kafka 三种通道，各自声明严重级别过滤
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 告警触发 -> 级别过滤 -> 各通道串行发送
 * @rules 通知失败只返回错误由引擎记录，不得影响告警状态；解除事件不经过通知器
 * @dependencies net/http, github.com/segmentio/kafka-go
 * @refs service/monitoring/alert_engine.go
 */

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notifier 告警通知通道
type Notifier interface {
	Name() string
	// SeverityFilter 返回接收的严重级别集合，nil/空表示接收全部
	SeverityFilter() []Severity
	Send(ctx context.Context, alert *Alert) error
}

// ConsoleNotifier 控制台通知器，接收全部级别
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier 创建控制台通知器
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: os.Stdout}
}

func (n *ConsoleNotifier) Name() string { return "console" }

func (n *ConsoleNotifier) SeverityFilter() []Severity { return nil }

func (n *ConsoleNotifier) Send(_ context.Context, alert *Alert) error {
	icon := map[Severity]string{
		SeverityInfo:      "INFO",
		SeverityWarning:   "WARN",
		SeverityCritical:  "CRIT",
		SeverityEmergency: "EMRG",
	}[alert.Severity]
	_, err := fmt.Fprintf(n.out, "[ALERT][%s] %s: %s (%s)\n",
		icon, alert.RuleName, alert.Message, alert.FiredAt.Format(time.RFC3339))
	return err
}

// WebhookNotifier Webhook通知器，仅转发 critical 与 emergency 级别
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建Webhook通知器
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) SeverityFilter() []Severity {
	return []Severity{SeverityCritical, SeverityEmergency}
}

func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造Webhook请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhook请求失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Webhook返回异常状态码: %d", resp.StatusCode)
	}
	return nil
}

// KafkaNotifier Kafka通知器，告警以JSON消息投递到指定topic，key为规则ID
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier 创建Kafka通知器
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) SeverityFilter() []Severity { return nil }

func (n *KafkaNotifier) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.RuleID),
		Value: payload,
		Time:  alert.FiredAt,
	})
	if err != nil {
		return fmt.Errorf("Kafka消息写入失败: %w", err)
	}
	return nil
}

// Close 关闭底层Kafka写入器
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
