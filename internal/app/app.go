package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"order-exec/internal/config"
	"order-exec/internal/exchange"
	"order-exec/internal/execution"
	"order-exec/internal/journal"
	"order-exec/internal/store"
)

// candleSource 是 track 命令需要的行情能力, 只有真实网关实现。
type candleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int64) ([]exchange.Candle, error)
}

// App 聚合核心依赖并驱动一次命令执行。
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	dryRun     bool
	supervisor *execution.Supervisor
	candles    candleSource
}

// New 创建 App 实例并完成网关与监督器的装配。
// dryRun 为真时使用本地桩网关, 不会向交易所发送任何请求。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store, dryRun bool) (*App, error) {
	jnl, err := journal.New(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化订单流水失败: %w", err)
	}

	var gw exchange.Gateway
	var candles candleSource
	if dryRun {
		gw = exchange.NewStub(logger)
	} else {
		client, err := exchange.NewClient(cfg.Exchange, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易所网关失败: %w", err)
		}
		gw = client
		candles = client
	}

	sup := execution.NewSupervisor(gw, jnl, cfg.Exchange.Retry, cfg.Execution, dryRun, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		dryRun:     dryRun,
		supervisor: sup,
		candles:    candles,
	}, nil
}

// Run 解析命令行参数并执行对应命令。
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("缺少命令\n\n%s", usage)
	}

	command, rest := args[0], args[1:]

	a.logger.Info("开始执行命令",
		zap.String("command", command),
		zap.Strings("args", rest),
		zap.Bool("dry_run", a.dryRun),
	)

	switch command {
	case "market":
		return a.runMarket(ctx, rest)
	case "limit":
		return a.runLimit(ctx, rest)
	case "oco":
		return a.runOCO(ctx, rest)
	case "stop_limit":
		return a.runStopLimit(ctx, rest)
	case "twap":
		return a.runTwap(ctx, rest)
	case "track":
		return a.runTrack(ctx, rest)
	case "validate":
		return a.runValidate(ctx, rest)
	default:
		return fmt.Errorf("未知命令 %q\n\n%s", command, usage)
	}
}

const usage = `用法:
  bot [flags] market     <symbol> <side> <qty>
  bot [flags] limit      <symbol> <side> <qty> <price>
  bot [flags] oco        <symbol> <side> <qty> <takeProfit> <stopPrice> <stopLimitPrice>
  bot [flags] stop_limit <symbol> <side> <qty> <stopPrice> <limitPrice>
  bot [flags] twap       <symbol> <side> <totalQty> <slices> <intervalSeconds>
  bot [flags] track      [symbol] [timeframe]
  bot [flags] validate   <symbol>

flags:
  -config 配置文件路径 (默认 configs/config.yaml)
  -dry-run 使用本地桩网关, 不发送真实请求
  -verbose 输出 debug 级日志`
