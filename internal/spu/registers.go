// Package spu 描述目标处理器: 128 个 128 位寄存器、双发射 (偶/奇) 流水线、
// 以四字为单位访问的本地存储。
package spu

import "strconv"

// Reg 寄存器编号。0..127 为硬件寄存器，>= 128 为虚拟寄存器
type Reg int32

// NoReg 表示不存在的寄存器操作数
const NoReg Reg = -1

// NumHardware 硬件寄存器数量
const NumHardware = 128

// ABI 寄存器分配
const (
	LR  Reg = 0 // 链接寄存器
	SP  Reg = 1 // 栈指针
	Env Reg = 2 // 保留 (环境指针)

	FirstArg  Reg = 3
	LastArg   Reg = 74
	ReturnReg Reg = 3

	FirstScratch Reg = 75
	LastScratch  Reg = 79

	FirstCalleeSaved Reg = 80
	LastCalleeSaved  Reg = 127

	// FirstVirtual 第一个虚拟寄存器编号
	FirstVirtual Reg = NumHardware
)

// MaxArgs 通过寄存器传递的最大参数个数
const MaxArgs = int(LastArg - FirstArg + 1)

// IsHardware 是否是硬件寄存器
func (r Reg) IsHardware() bool {
	return r >= 0 && r < NumHardware
}

// IsVirtual 是否是虚拟寄存器
func (r Reg) IsVirtual() bool {
	return r >= FirstVirtual
}

func (r Reg) String() string {
	switch {
	case r == NoReg:
		return "-"
	case r == LR:
		return "$lr"
	case r == SP:
		return "$sp"
	case r.IsHardware():
		return "$" + strconv.Itoa(int(r))
	}
	return "%" + strconv.Itoa(int(r))
}

// ArgReg 第 i 个参数寄存器
func ArgReg(i int) Reg {
	return FirstArg + Reg(i)
}

// IsCallerSaved 调用会破坏的寄存器 (参数寄存器与临时寄存器)
func IsCallerSaved(r Reg) bool {
	return r >= FirstArg && r <= LastScratch
}

// IsCalleeSaved 被调用者负责保存的寄存器
func IsCalleeSaved(r Reg) bool {
	return r >= FirstCalleeSaved && r <= LastCalleeSaved
}

// IsAllocatable ABI 允许分配器使用的寄存器 (不含 $lr, $sp, $2)
func IsAllocatable(r Reg) bool {
	return r >= FirstArg && r <= LastCalleeSaved
}

// CallerSaved 调用者保存寄存器列表
func CallerSaved() []Reg {
	return regRange(FirstArg, LastScratch)
}

// CalleeSaved 被调用者保存寄存器列表
func CalleeSaved() []Reg {
	return regRange(FirstCalleeSaved, LastCalleeSaved)
}

// Allocatable 分配器的颜色顺序: 先用临时寄存器，再用参数寄存器，最后才用需要保存的寄存器
func Allocatable() []Reg {
	out := make([]Reg, 0, LastCalleeSaved-FirstArg+1)
	out = append(out, regRange(FirstScratch, LastScratch)...)
	out = append(out, regRange(FirstArg, LastArg)...)
	out = append(out, regRange(FirstCalleeSaved, LastCalleeSaved)...)
	return out
}

func regRange(first, last Reg) []Reg {
	out := make([]Reg, 0, last-first+1)
	for r := first; r <= last; r++ {
		out = append(out, r)
	}
	return out
}
