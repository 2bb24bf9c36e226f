package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintagent.json")
	writeFile(t, path, `{"agent":{"name":"Minty"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Agent.RecordTTL() != 10*time.Minute {
		t.Fatalf("unexpected ttl %v", cfg.Agent.RecordTTL())
	}
	if cfg.Storage.Cache.Driver != "memory" || cfg.Queue.Driver != "memory" || cfg.LLM.Provider != "openai" {
		t.Fatalf("unexpected drivers %+v", cfg)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chain.yaml") {
		t.Fatalf("chain config not resolved: %q", cfg.Web3.ChainConfig)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir not resolved: %q", cfg.Runtime.DataDir)
	}
	if cfg.Web3.MintChain != "base-sepolia" || cfg.Web3.ENSChain != "mainnet" {
		t.Fatalf("unexpected chains %+v", cfg.Web3)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintagent.json")
	writeFile(t, path, `{"storage":{"cache":{"driver":"etcd"}},"queue":{"driver":"redis"}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "storage.cache.driver") || !strings.Contains(err.Error(), "queue.redis.address") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLoadEnvFileFeedsSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "MINTAGENT_TEST_JWT=jwt-from-env-file\n")
	path := filepath.Join(dir, "mintagent.json")
	writeFile(t, path, `{"ipfs":{"jwt_env":"MINTAGENT_TEST_JWT"}}`)
	t.Cleanup(func() { os.Unsetenv("MINTAGENT_TEST_JWT") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ResolveJWT(); got != "jwt-from-env-file" {
		t.Fatalf("unexpected jwt %q", got)
	}
}

func TestResolveAPIKeyPrefersLiteral(t *testing.T) {
	t.Setenv("MINTAGENT_TEST_KEY", "from-env")
	cfg := &Config{LLM: LLMConfig{Provider: "openai", OpenAI: OpenAIConfig{APIKeyEnv: "MINTAGENT_TEST_KEY"}}}
	if got := cfg.ResolveAPIKey(); got != "from-env" {
		t.Fatalf("unexpected key %q", got)
	}
	cfg.LLM.OpenAI.APIKey = " literal "
	if got := cfg.ResolveAPIKey(); got != "literal" {
		t.Fatalf("unexpected key %q", got)
	}
	cfg.LLM.Provider = "python_bridge"
	if got := cfg.ResolveAPIKey(); got != "" {
		t.Fatalf("python bridge has no key, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadDefaultsBoundMintAndLLMCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintagent.json")
	writeFile(t, path, `{"llm":{"provider":"gemini"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.MintTimeout() != 90*time.Second {
		t.Fatalf("unexpected mint timeout %v", cfg.Agent.MintTimeout())
	}
	if cfg.LLM.CallTimeout() != 60*time.Second {
		t.Fatalf("unexpected llm timeout %v", cfg.LLM.CallTimeout())
	}
	if cfg.Agent.LockLease() <= cfg.LLM.CallTimeout()+cfg.Agent.MintTimeout() {
		t.Fatalf("default lease %v does not cover the locked work", cfg.Agent.LockLease())
	}
}

func TestLoadRejectsLeaseShorterThanLockedWork(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mintagent.json")
	writeFile(t, path, `{
		"agent": {"lock_lease_seconds": 120, "mint_timeout_seconds": 90},
		"storage": {"cache": {"driver": "redis", "redis": {"address": "127.0.0.1:6379"}}},
		"llm": {"openai": {"timeout_seconds": 60}}
	}`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "agent.lock_lease_seconds") {
		t.Fatalf("expected lease validation error, got %v", err)
	}

	writeFile(t, path, `{
		"agent": {"lock_lease_seconds": 180, "mint_timeout_seconds": 90},
		"storage": {"cache": {"driver": "redis", "redis": {"address": "127.0.0.1:6379"}}},
		"llm": {"openai": {"timeout_seconds": 60}}
	}`)
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
}
