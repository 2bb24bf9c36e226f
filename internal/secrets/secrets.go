// Package secrets 从环境变量或 AWS SSM Parameter Store 读取敏感配置，
// 如签名私钥与第三方 API 凭证。
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Getter 按名称返回一个秘密值。
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ssmAPI 是 *ssm.Client 的方法子集。
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM 读取解密后的 SecureString 参数。
type SSM struct {
	api ssmAPI
}

// NewSSM 使用给定的 SSM 客户端创建 Getter。
func NewSSM(api ssmAPI) (*SSM, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	return &SSM{api: api}, nil
}

// GetParameter 实现 Getter。
func (s *SSM) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: parameter name is required")
	}
	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// Env 从进程环境读取秘密，名称即环境变量名。
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv 创建读取 os 环境变量的 Getter。
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// GetParameter 实现 Getter。
func (e *Env) GetParameter(_ context.Context, name string) (string, error) {
	value, ok := e.lookup(strings.TrimSpace(name))
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("secrets: environment variable %q is not set", name)
	}
	return strings.TrimSpace(value), nil
}

var (
	_ Getter = (*SSM)(nil)
	_ Getter = (*Env)(nil)
)
