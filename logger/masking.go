/*
 * @module logger/masking
 * @description 敏感信息脱敏，按固定顺序对日志消息应用正则替换规则
 * @architecture 基础设施层 - 日志处理
 * @documentReference ai_docs/observability_core_impl.md
 * @stateFlow 原始消息 -> 逐条规则替换 -> 脱敏消息
 * @rules 仅在生产环境对消息和错误信息脱敏，不处理任意上下文字段
 * @dependencies regexp
 * @refs logger/logger.go
 */

package logger

import "regexp"

// maskRule 脱敏规则，按声明顺序依次应用，后一条作用于前一条的输出
type maskRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var maskRules = []maskRule{
	// JWT Token
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[JWT]"},
	// Stripe 风格密钥（live/test）
	{regexp.MustCompile(`sk_(?:live|test)_[A-Za-z0-9]+`), "[SECRET_KEY]"},
	// Webhook 签名密钥
	{regexp.MustCompile(`whsec_[A-Za-z0-9]+`), "[WEBHOOK_SECRET]"},
	// 邮箱地址
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	// 16位分组银行卡号
	{regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`), "[CARD]"},
	// password 键值对
	{regexp.MustCompile(`(?i)password["']?\s*[:=]\s*\S+`), "password: [REDACTED]"},
}

// maskSensitive 按顺序应用全部脱敏规则
func maskSensitive(message string) string {
	for _, rule := range maskRules {
		message = rule.pattern.ReplaceAllString(message, rule.replacement)
	}
	return message
}
