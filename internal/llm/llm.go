package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tier 表示对模型能力的需求等级，各后端将其映射为具体模型。
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// Request 描述一次结构化生成请求。
type Request struct {
	Prompt string
	Tier   Tier
}

// Client 定义了调用大模型生成 JSON 对象的统一接口。
type Client interface {
	GenerateObject(ctx context.Context, req Request) (map[string]any, error)
}

// Models 按等级配置模型名称。
type Models struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

// For 返回等级对应的模型，未配置时回退到 fallback。
func (m Models) For(tier Tier, fallback string) string {
	var name string
	switch tier {
	case TierMedium:
		name = m.Medium
	case TierLarge:
		name = m.Large
	default:
		name = m.Small
	}
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return strings.TrimSpace(name)
}

// ErrNoObject 表示模型输出中找不到 JSON 对象。
var ErrNoObject = errors.New("模型输出中没有 JSON 对象")

// ParseObject 从模型文本输出中解析 JSON 对象，兼容 ```json 代码块包裹。
func ParseObject(text string) (map[string]any, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```JSON")
		body = strings.TrimPrefix(body, "```")
		if end := strings.LastIndex(body, "```"); end >= 0 {
			body = body[:end]
		}
		body = strings.TrimSpace(body)
	}

	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, ErrNoObject
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("解析模型 JSON 输出失败: %w", err)
	}
	return obj, nil
}
