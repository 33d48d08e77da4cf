package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/internal/engine"
	"github.com/betbot/laddermm/internal/supervisor"
	"github.com/betbot/laddermm/pkg/config"
	"github.com/betbot/laddermm/pkg/logger"
	"github.com/betbot/laddermm/pkg/marketspec"
)

// 默认派生路径（与 polymarket 网页钱包一致）
const defaultDerivationPath = "m/44'/60'/0'/0/0"

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	markets := flag.Int("markets", 0, "做完 N 个窗口后退出（0 = 不限）")
	seconds := flag.Int("seconds", 0, "运行 S 秒后退出（0 = 不限）")
	noSkip := flag.Bool("no-skip", false, "不跳过启动时进行中的窗口")
	dryRun := flag.Bool("dry-run", false, "纸交易模式：不发真实订单")
	flag.Parse()

	// .env 是可选的，不存在不报错
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	spec, err := marketspec.New(cfg.Market.Symbol, cfg.Market.Timeframe, "updown")
	if err != nil {
		fmt.Fprintf(os.Stderr, "市场规格错误: %v\n", err)
		os.Exit(1)
	}
	logger.SetSlugPrefix(spec.SlugPrefix())
	logger.SetMarketTimestamp(spec.CurrentPeriodStartUnix(time.Now()))
	if err := logger.Init(logger.Config{
		Level:         cfg.Log.Level,
		OutputFile:    cfg.Log.File,
		MaxSize:       100,
		MaxBackups:    3,
		MaxAge:        7,
		Compress:      true,
		LogByCycle:    cfg.Log.ByCycle,
		CycleDuration: spec.Duration(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	logger.StartLogRotationChecker(logger.Config{
		Level:         cfg.Log.Level,
		OutputFile:    cfg.Log.File,
		LogByCycle:    cfg.Log.ByCycle,
		CycleDuration: spec.Duration(),
	})

	var privateKey *ecdsa.PrivateKey
	if !cfg.DryRun {
		privateKey, err = loadPrivateKey(cfg)
		if err != nil {
			logrus.Errorf("加载钱包失败: %v", err)
			os.Exit(1)
		}
	}

	sessionID := uuid.New().String()
	logrus.Infof("✅ 启动 session=%s spec=%s dry_run=%v", sessionID, spec.SlugPrefix(), cfg.DryRun)

	sup, err := supervisor.New(cfg, supervisor.Options{
		Markets: *markets,
		Seconds: *seconds,
		NoSkip:  *noSkip,
		DryRun:  cfg.DryRun,
	}, privateKey, sessionID)
	if err != nil {
		logrus.Errorf("装配失败: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logrus.Infof("收到信号 %s，开始优雅退出", sig)
		cancel()
	}()

	err = sup.Run(ctx)
	cancel()

	switch {
	case err == nil:
		logrus.Info("✅ 正常退出")
	case errors.Is(err, engine.ErrInvariantHalt):
		// 账目不可信，必须人工介入，退出码区别于一般错误
		logrus.Errorf("不变量被破坏，停止交易: %v", err)
		os.Exit(2)
	default:
		logrus.Errorf("异常退出: %v", err)
		os.Exit(1)
	}
}

// loadPrivateKey 私钥十六进制优先，其次从助记词按标准路径派生
func loadPrivateKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	if hexKey := strings.TrimSpace(cfg.Wallet.PrivateKey); hexKey != "" {
		return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	}

	mnemonic := strings.TrimSpace(cfg.Wallet.Mnemonic)
	if mnemonic == "" {
		return nil, fmt.Errorf("POLYMARKET_PRIVATE_KEY 与 POLYMARKET_MNEMONIC 均未设置")
	}
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(defaultDerivationPath)
	if err != nil {
		return nil, err
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}
	pk, err := w.PrivateKey(acct)
	if err != nil {
		return nil, fmt.Errorf("private key failed: %w", err)
	}
	logrus.Infof("助记词派生钱包 %s", strings.ToLower(acct.Address.Hex()))
	return pk, nil
}
