package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RosarioB/eliza-nft/internal/agent"
	"github.com/RosarioB/eliza-nft/internal/api"
	"github.com/RosarioB/eliza-nft/internal/config"
	"github.com/RosarioB/eliza-nft/internal/observability/metrics"
	"github.com/RosarioB/eliza-nft/internal/queue"
	"github.com/RosarioB/eliza-nft/pkg/logger"
)

// main 是铸造代理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mintagentd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mintagentd",
		Short:         "从对话中收集 NFT 信息并完成铸造的代理服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "配置文件路径，可通过 MINTAGENT_CONFIG 设置")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 接口与队列消费者",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newProcessCommand(&configPath))
	return root
}

func newProcessCommand(configPath *string) *cobra.Command {
	var participant, text string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "同步评估一条消息并打印记录状态",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(participant) == "" {
				return errors.New("必须通过 --user 指定参与者")
			}
			return process(cmd, *configPath, agent.Message{ParticipantID: participant, Text: text})
		},
	}
	cmd.Flags().StringVarP(&participant, "user", "u", "", "参与者标识")
	cmd.Flags().StringVarP(&text, "text", "t", "", "消息正文")
	return cmd
}

func defaultConfigPath() string {
	if path := os.Getenv("MINTAGENT_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "mintagent.json")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("mintagentd")

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Warn("关闭消息队列失败", "error", err)
		}
	}()

	processor := queue.NewProcessor(app.agent, q,
		queue.WithWorkerCount(cfg.Queue.Worker),
		queue.WithProcessorLogger(logger.Named("queue")),
	)

	backgroundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := processor.Start(backgroundCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("消息处理器异常退出", "error", err)
		}
	}()

	if app.sweeper != nil {
		go sweepLoop(backgroundCtx, app.sweeper, time.Minute)
	}

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(backgroundCtx, addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, app.agent,
		api.WithQueue(queue.NewPublisher(q)),
		api.WithLedger(app.ledger),
		api.WithChain(app.chain.Name, app.chain.Client),
	)
	log.Info("mintagentd 已启动",
		"agent", app.agent.Name(),
		"address", cfg.Server.Address,
		"cache", cfg.Storage.Cache.Driver,
		"queue", cfg.Queue.Driver,
		"llm", cfg.LLM.Provider,
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func process(cmd *cobra.Command, configPath string, msg agent.Message) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	msg.ReceivedAt = time.Now().UnixMilli()
	out := app.agent.Handle(ctx, msg)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "outcome: %s\n", out.Kind)
	if out.Err != nil {
		fmt.Fprintf(w, "error: [%s] %v\n", out.Code(), out.Err)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, app.agent.DataStatus(ctx, msg.ParticipantID))
	if status := app.agent.MintStatus(ctx, msg.ParticipantID); status != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, status)
	}
	return nil
}

type sweeper interface {
	Sweep() int
}

// sweepLoop 定期清理进程内缓存中过期的记录。
func sweepLoop(ctx context.Context, s sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Named("cache").Debug("清理过期记录", "count", n)
			}
		}
	}
}
