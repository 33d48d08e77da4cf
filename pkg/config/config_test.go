package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Strategy.BaseSize != 10 {
		t.Fatalf("BaseSize = %f, want 10", cfg.Strategy.BaseSize)
	}
	if cfg.Strategy.LadderDepth != 5 {
		t.Fatalf("LadderDepth = %d, want 5", cfg.Strategy.LadderDepth)
	}
	// 默认倾斜系数必须和定价器一致，否则开箱跑出 1/5 的库存倾斜
	if cfg.Strategy.Gamma != 0.001 {
		t.Fatalf("Gamma = %f, want 0.001", cfg.Strategy.Gamma)
	}
	if cfg.Risk.CircuitBreakUSD != 100 {
		t.Fatalf("CircuitBreakUSD = %f, want 100", cfg.Risk.CircuitBreakUSD)
	}
	if !cfg.SkipFirstWindow {
		t.Fatal("默认应跳过首个窗口")
	}
}

func TestYamlThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
strategy:
  base_size: 20
  gamma: 0.0005
risk:
  circuit_break_usd: 50
dry_run: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}

	t.Setenv("STRATEGY_BASE_SIZE", "30")
	t.Setenv("POLYMARKET_PRIVATE_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// 环境变量覆盖 YAML
	if cfg.Strategy.BaseSize != 30 {
		t.Fatalf("BaseSize = %f, want 30（环境变量覆盖）", cfg.Strategy.BaseSize)
	}
	// YAML 覆盖默认值
	if cfg.Strategy.Gamma != 0.0005 {
		t.Fatalf("Gamma = %f, want 0.0005", cfg.Strategy.Gamma)
	}
	if cfg.Risk.CircuitBreakUSD != 50 {
		t.Fatalf("CircuitBreakUSD = %f, want 50", cfg.Risk.CircuitBreakUSD)
	}
	// 未触及的保持默认
	if cfg.Strategy.LadderDepth != 5 {
		t.Fatalf("LadderDepth = %d, want 5", cfg.Strategy.LadderDepth)
	}
}

func TestValidateRejectsLiveWithoutKey(t *testing.T) {
	cfg := Default()
	cfg.DryRun = false
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.Mnemonic = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("实盘无密钥应报错")
	}

	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dry-run 无密钥不应报错: %v", err)
	}
}

func TestValidateSignatureType(t *testing.T) {
	cfg := Default()
	cfg.DryRun = true
	for _, ok := range []string{"", "eoa", "magic", "gnosis-safe"} {
		cfg.Wallet.SignatureType = ok
		if err := cfg.Validate(); err != nil {
			t.Fatalf("signature_type %q 应合法: %v", ok, err)
		}
	}
	cfg.Wallet.SignatureType = "multisig"
	if err := cfg.Validate(); err == nil {
		t.Fatal("未知 signature_type 应报错")
	}
}
