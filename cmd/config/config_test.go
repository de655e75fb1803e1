package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"synnergy-network/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Catalog.ProgramID == "" {
		t.Fatalf("expected a non-empty program id")
	}
	if AppConfig.Catalog.PageCap != 16 {
		t.Fatalf("unexpected page cap: %d", AppConfig.Catalog.PageCap)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("devnet")
	if AppConfig.Transport.RateBurst != 80 {
		t.Fatalf("expected RateBurst 80, got %d", AppConfig.Transport.RateBurst)
	}
	if AppConfig.Proxy.RateMode != "global" {
		t.Fatalf("expected proxy rate mode override")
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("catalog:\n  program_id: sandbox\n  page_cap: 7\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Catalog.ProgramID != "sandbox" {
		t.Fatalf("expected program id sandbox, got %s", AppConfig.Catalog.ProgramID)
	}
	if AppConfig.Catalog.PageCap != 7 {
		t.Fatalf("expected PageCap 7, got %d", AppConfig.Catalog.PageCap)
	}
}
