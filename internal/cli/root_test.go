package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screener.env")
	if err := os.WriteFile(path, []byte("SCREENER_TEST_ENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("SCREENER_TEST_ENV_VALUE", "")
	os.Unsetenv("SCREENER_TEST_ENV_VALUE")

	if err := loadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("SCREENER_TEST_ENV_VALUE"); got != "from-file" {
		t.Fatalf("env value = %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := loadEnv(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatalf("explicit missing env file should fail")
	}
}

func TestCommandTree(t *testing.T) {
	want := map[string]bool{"run": false, "refresh": false, "show": false, "export": false, "subscribers": false, "notify": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %q not registered", name)
		}
	}
}
