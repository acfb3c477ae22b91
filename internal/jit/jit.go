// Package jit 把栈式字节码方法编译为目标处理器的机器码:
// 树形 IR -> 指令选择 -> 寄存器分配 -> 调度 -> 序言/尾声 -> 地址修补 -> 链接
package jit

import (
	"fmt"

	"github.com/tangzhangming/spujit/internal/spu"
)

// Config 编译配置
type Config struct {
	// Allocator 分配策略: graph, linear, auto
	Allocator AllocatorKind `toml:"allocator" json:"allocator"`
	// MaxColors 可用颜色数，0 表示使用全部 125 个可分配寄存器
	MaxColors int `toml:"max_colors" json:"max_colors"`
	// MaxSpillRounds 溢出改写的最大轮数
	MaxSpillRounds int `toml:"max_spill_rounds" json:"max_spill_rounds"`
	// Schedule 是否做块内指令调度
	Schedule bool `toml:"schedule" json:"schedule"`
	// RemoveRedundantMoves 删除着色后源和目的相同的复制
	RemoveRedundantMoves bool `toml:"remove_redundant_moves" json:"remove_redundant_moves"`
	// Parallelism 模块编译的并发度，0 表示不限制
	Parallelism int `toml:"parallelism" json:"parallelism"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Allocator:            AllocatorGraph,
		MaxColors:            0,
		MaxSpillRounds:       8,
		Schedule:             true,
		RemoveRedundantMoves: true,
		Parallelism:          4,
	}
}

// minColors 单条指令最多同时需要的寄存器数 (shufb 读三个)
const minColors = 3

// Validate 检查配置
func (c Config) Validate() error {
	switch c.Allocator {
	case AllocatorGraph, AllocatorLinear, AllocatorAuto:
	default:
		return fmt.Errorf("unknown allocator %q", c.Allocator)
	}
	pool := len(spu.Allocatable())
	if c.MaxColors != 0 && (c.MaxColors < minColors || c.MaxColors > pool) {
		return fmt.Errorf("max_colors must be between %d and %d, got %d", minColors, pool, c.MaxColors)
	}
	if c.MaxSpillRounds < 0 {
		return fmt.Errorf("max_spill_rounds must not be negative")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	return nil
}

// pool 分配器使用的颜色，按优先顺序
func (c Config) pool() []spu.Reg {
	regs := spu.Allocatable()
	if c.MaxColors > 0 && c.MaxColors < len(regs) {
		regs = regs[:c.MaxColors]
	}
	return regs
}
