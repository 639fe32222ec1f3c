package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是预缓存清单文件的结构，通常由站点构建流程生成。
type Manifest struct {
	Shell    []string `yaml:"shell"`
	External []string `yaml:"external"`
}

// LoadManifest 读取 YAML 清单，去除空白项；清单必须至少包含一个 shell 资源。
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("读取预缓存清单失败: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("解析预缓存清单失败: %w", err)
	}

	manifest.Shell = compactEntries(manifest.Shell)
	manifest.External = compactEntries(manifest.External)
	if len(manifest.Shell) == 0 {
		return Manifest{}, errors.New("预缓存清单缺少 shell 资源")
	}
	if manifest.External == nil {
		manifest.External = []string{}
	}
	return manifest, nil
}

func compactEntries(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, entry := range in {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
