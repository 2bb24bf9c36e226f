// Package ipfs 通过 Pinata 将 NFT 元数据固定到 IPFS。
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RosarioB/eliza-nft/internal/nft"
)

const (
	defaultBaseURL = "https://api.pinata.cloud"
	defaultTimeout = 30 * time.Second
	pinJSONPath    = "/pinning/pinJSONToIPFS"
)

// Config 描述 Pinata API 的访问参数。
type Config struct {
	JWT     string
	BaseURL string
	Timeout time.Duration
}

// PinataClient 调用 pinJSONToIPFS 上传元数据。
type PinataClient struct {
	jwt        string
	baseURL    string
	httpClient *http.Client
}

// NewPinataClient 根据配置创建客户端。
func NewPinataClient(cfg Config) (*PinataClient, error) {
	jwt := strings.TrimSpace(cfg.JWT)
	if jwt == "" {
		return nil, errors.New("未提供 Pinata JWT")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &PinataClient{
		jwt:        jwt,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type pinRequest struct {
	Content  nft.Metadata `json:"pinataContent"`
	Metadata struct {
		Name string `json:"name,omitempty"`
	} `json:"pinataMetadata"`
}

// UploadJSON 上传元数据并返回内容标识 CID。
func (c *PinataClient) UploadJSON(ctx context.Context, metadata nft.Metadata) (string, error) {
	body := pinRequest{Content: metadata}
	body.Metadata.Name = metadata.Name
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("序列化 Pinata 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pinJSONPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建 Pinata 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求 Pinata 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("Pinata 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 Pinata 响应失败: %w", err)
	}
	if strings.TrimSpace(decoded.IpfsHash) == "" {
		return "", errors.New("Pinata 响应缺少 IpfsHash")
	}
	return decoded.IpfsHash, nil
}

// URI 返回 CID 对应的 ipfs:// 地址。
func URI(cid string) string {
	return "ipfs://" + cid
}
