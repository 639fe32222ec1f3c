package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigPathPriority(t *testing.T) {
	t.Setenv(configEnv, "/tmp/env.toml")

	opts := &globalOptions{}
	if got := opts.configPath(); got != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", got)
	}
	opts.configFlag = "/tmp/flag.toml"
	if got := opts.configPath(); got != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", got)
	}

	t.Setenv(configEnv, "")
	if got := (&globalOptions{}).configPath(); got != defaultConfigPath {
		t.Fatalf("未指定时应使用 %s，得到 %s", defaultConfigPath, got)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"check-config", "--config", configFixture(t, "valid.toml")})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"check-config", "--config", configFixture(t, "missing.toml")})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应说明失败原因，得到 %s", stdErrBuffer().String())
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	useBufferWriters(t)
	if code := execute([]string{"check-config", "--bogus"}); code != 2 {
		t.Fatalf("未知参数应返回退出码 2，得到 %d", code)
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"version"})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "shellcache") {
		t.Fatalf("version 输出应包含 shellcache 标识")
	}
}

func TestInstallAndCachesCommands(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "precache.yaml"), []byte("shell:\n  - ./\n  - ./index.html\n"), 0o600); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}
	configPath := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`
StoragePath = "%s"
MaxRetries = 0

[Site]
Origin = "%s"
CacheVersion = "v9"

[Precache]
ManifestPath = "precache.yaml"
`, filepath.Join(dir, "storage"), upstream.URL)
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	useBufferWriters(t)
	if code := execute([]string{"install", "--config", configPath}); code != 0 {
		t.Fatalf("install 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	out := stdOutBuffer().String()
	if !strings.Contains(out, "shell: 2/2 stored") || !strings.Contains(out, "state: activated") {
		t.Fatalf("install 输出不符合预期: %s", out)
	}

	stdOutBuffer().Reset()
	if code := execute([]string{"caches", "list", "--config", configPath}); code != 0 {
		t.Fatalf("caches list 应成功，得到 %d", code)
	}
	listed := stdOutBuffer().String()
	if !strings.Contains(listed, "aldair-portfolio-shell-v9") || !strings.Contains(listed, "aldair-portfolio-v9") {
		t.Fatalf("caches list 输出不符合预期: %s", listed)
	}

	stdOutBuffer().Reset()
	if code := execute([]string{"caches", "clear", "--config", configPath}); code != 0 {
		t.Fatalf("caches clear 应成功，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "deleted: aldair-portfolio-shell-v9") {
		t.Fatalf("caches clear 输出不符合预期: %s", stdOutBuffer().String())
	}
}
