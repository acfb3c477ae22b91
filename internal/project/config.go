// Package project 读取和生成 spujit 项目配置文件
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tangzhangming/spujit/internal/jit"
)

const (
	ConfigFileName = "spujit.toml" // 配置文件名
)

// Config 项目配置
type Config struct {
	Output OutputConfig `toml:"output"`
	JIT    jit.Config   `toml:"jit"`
}

// OutputConfig 输出设置
type OutputConfig struct {
	// Image 映像文件路径，空表示与输入同名的 .img
	Image string `toml:"image"`

	// Listing 是否打印反汇编
	Listing bool `toml:"listing"`
}

// Default 默认配置
func Default() *Config {
	return &Config{JIT: jit.DefaultConfig()}
}

// LoadConfig 从文件加载配置，未出现的字段取默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析 TOML 配置内容
func ParseConfig(data []byte) (*Config, error) {
	config := Default()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.JIT.Validate(); err != nil {
		return nil, fmt.Errorf("invalid [jit] section: %w", err)
	}
	return config, nil
}

// Save 保存配置到文件
func (c *Config) Save(path string) error {
	content := generateConfigWithComments(c)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateConfigWithComments 生成带注释的配置文件内容
func generateConfigWithComments(c *Config) string {
	var sb strings.Builder

	sb.WriteString("[output]\n")
	sb.WriteString("# 映像文件路径（留空则与输入同名）\n")
	sb.WriteString(fmt.Sprintf("image = %q\n", c.Output.Image))
	sb.WriteString("# 打印反汇编\n")
	sb.WriteString(fmt.Sprintf("listing = %t\n\n", c.Output.Listing))

	sb.WriteString("[jit]\n")
	sb.WriteString("# 寄存器分配: graph, linear, auto\n")
	sb.WriteString(fmt.Sprintf("allocator = %q\n", string(c.JIT.Allocator)))
	sb.WriteString("# 可用寄存器数（0 表示全部）\n")
	sb.WriteString(fmt.Sprintf("max_colors = %d\n", c.JIT.MaxColors))
	sb.WriteString(fmt.Sprintf("max_spill_rounds = %d\n", c.JIT.MaxSpillRounds))
	sb.WriteString("# 块内指令调度\n")
	sb.WriteString(fmt.Sprintf("schedule = %t\n", c.JIT.Schedule))
	sb.WriteString(fmt.Sprintf("remove_redundant_moves = %t\n", c.JIT.RemoveRedundantMoves))
	sb.WriteString("# 并发编译的方法数（0 表示不限制）\n")
	sb.WriteString(fmt.Sprintf("parallelism = %d\n", c.JIT.Parallelism))

	return sb.String()
}

// GenerateDefault 生成默认配置，映像以目录名命名
func GenerateDefault(dir string) *Config {
	c := Default()
	c.Output.Image = sanitizeName(filepath.Base(dir)) + ".img"
	return c
}

// sanitizeName 清理文件名
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")

	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		}
	}
	s := strings.Trim(result.String(), ".")
	if s == "" {
		return "out"
	}
	return s
}

// FindConfigFile 从指定路径向上查找配置文件，找不到返回空字符串
func FindConfigFile(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}

	dir := startPath
	if !info.IsDir() {
		dir = filepath.Dir(startPath)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
