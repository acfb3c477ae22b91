// calling_convention.go - 目标调用约定与栈帧布局
//
// 调用约定:
// - $lr ($0) 保存返回地址，$sp ($1) 为栈指针，$2 保留
// - 参数依次通过 $3..$74 传递，返回值在 $3
// - $3..$79 由调用者保存，$80..$127 由被调用者保存
//
// 栈帧 (相对于新的 $sp，向高地址):
//
//	0(sp)          回链 (调用者的 $sp)
//	16(sp)         调用者帧中保存 $lr 的位置属于调用者，本帧的 $lr 保存在 16(旧sp)
//	32(sp)...      逃逸变量槽、溢出槽，各 16 字节
//	...            被调用者保存寄存器区
//	size(sp)       调用者的帧

package jit

import (
	"fmt"

	"github.com/tangzhangming/spujit/internal/spu"
)

// CallingConv 调用约定详细信息
type CallingConv struct {
	ArgRegs     []spu.Reg // 参数寄存器 (按顺序)
	RetReg      spu.Reg   // 返回值寄存器
	LinkReg     spu.Reg
	StackReg    spu.Reg
	CallerSaved []spu.Reg
	CalleeSaved []spu.Reg
	StackAlign  int // 栈对齐要求 (字节)

	BackChainOffset int // 回链相对 $sp 的偏移
	LinkSaveOffset  int // $lr 保存位置相对调用者 $sp 的偏移
	FirstSlotOffset int // 第一个帧槽的偏移
}

// SPUConv 目标处理器的标准调用约定
var SPUConv = CallingConv{
	ArgRegs:         argRegs(),
	RetReg:          spu.ReturnReg,
	LinkReg:         spu.LR,
	StackReg:        spu.SP,
	CallerSaved:     spu.CallerSaved(),
	CalleeSaved:     spu.CalleeSaved(),
	StackAlign:      16,
	BackChainOffset: 0,
	LinkSaveOffset:  16,
	FirstSlotOffset: 32,
}

func argRegs() []spu.Reg {
	regs := make([]spu.Reg, spu.MaxArgs)
	for i := range regs {
		regs[i] = spu.ArgReg(i)
	}
	return regs
}

// ArgReg 第 index 个参数使用的寄存器
func (cc *CallingConv) ArgReg(index int) (spu.Reg, bool) {
	if index >= 0 && index < len(cc.ArgRegs) {
		return cc.ArgRegs[index], true
	}
	return spu.NoReg, false
}

// ============================================================================
// 帧布局
// ============================================================================

// maxFrameSize lqd/stqd 的 10 位位移 (以 16 字节为单位) 能覆盖的范围
const maxFrameSize = 512 * 16

// FrameLayout 栈帧布局
type FrameLayout struct {
	conv        *CallingConv
	slots       int
	EscapeSlots int
	SpillSlots  int
	saved       []spu.Reg
}

// NewFrameLayout 创建新的帧布局
func NewFrameLayout(conv *CallingConv) *FrameLayout {
	return &FrameLayout{conv: conv}
}

func (fl *FrameLayout) allocSlot() int {
	off := fl.conv.FirstSlotOffset + fl.slots*16
	fl.slots++
	return off
}

// AllocEscapeSlot 为逃逸变量分配 16 字节槽，返回相对 $sp 的偏移
func (fl *FrameLayout) AllocEscapeSlot() int {
	fl.EscapeSlots++
	return fl.allocSlot()
}

// AllocSpillSlot 为溢出的虚拟寄存器分配槽
func (fl *FrameLayout) AllocSpillSlot() int {
	fl.SpillSlots++
	return fl.allocSlot()
}

// SetCalleeSaved 记录需要在序言中保存的寄存器
func (fl *FrameLayout) SetCalleeSaved(regs []spu.Reg) {
	fl.saved = append(fl.saved[:0], regs...)
}

// CalleeSaved 需要保存的寄存器
func (fl *FrameLayout) CalleeSaved() []spu.Reg {
	return fl.saved
}

// SaveOffset 第 i 个被保存寄存器的槽偏移
func (fl *FrameLayout) SaveOffset(i int) int {
	return fl.conv.FirstSlotOffset + (fl.slots+i)*16
}

// Size 帧大小，按栈对齐取整
func (fl *FrameLayout) Size() int {
	size := fl.conv.FirstSlotOffset + (fl.slots+len(fl.saved))*16
	align := fl.conv.StackAlign
	return (size + align - 1) &^ (align - 1)
}

// IsEmpty 没有任何帧槽和保存寄存器
func (fl *FrameLayout) IsEmpty() bool {
	return fl.slots == 0 && len(fl.saved) == 0
}

// ============================================================================
// 序言 / 尾声
// ============================================================================

// buildProlog 生成序言块。叶子方法且帧为空时序言为空
func buildProlog(fl *FrameLayout, leaf bool) (*spu.BasicBlock, error) {
	cc := fl.conv
	b := spu.NewBlock("prolog")
	if leaf && fl.IsEmpty() {
		return b, nil
	}
	size := fl.Size()
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds %d bytes", size, maxFrameSize)
	}
	b.Append(spu.NewRI(spu.OpStqd, cc.LinkReg, cc.StackReg, cc.LinkSaveOffset))
	b.Append(spu.NewRI(spu.OpStqd, cc.StackReg, cc.StackReg, -size))
	adjustStack(b, cc, -size)
	for i, r := range fl.saved {
		b.Append(spu.NewRI(spu.OpStqd, r, cc.StackReg, fl.SaveOffset(i)))
	}
	return b, nil
}

// buildEpilog 生成尾声块，以 bi $lr 结束
func buildEpilog(fl *FrameLayout, leaf bool) *spu.BasicBlock {
	cc := fl.conv
	b := spu.NewBlock("epilog")
	if !(leaf && fl.IsEmpty()) {
		size := fl.Size()
		for i, r := range fl.saved {
			b.Append(spu.NewRI(spu.OpLqd, r, cc.StackReg, fl.SaveOffset(i)))
		}
		adjustStack(b, cc, size)
		b.Append(spu.NewRI(spu.OpLqd, cc.LinkReg, cc.StackReg, cc.LinkSaveOffset))
	}
	b.Append(spu.NewRR(spu.OpBi, spu.NoReg, cc.LinkReg, spu.NoReg))
	return b
}

// adjustStack $sp += delta。超出 ai 立即数范围时借用临时寄存器
func adjustStack(b *spu.BasicBlock, cc *CallingConv, delta int) {
	if delta >= -512 && delta <= 511 {
		b.Append(spu.NewRI(spu.OpAi, cc.StackReg, cc.StackReg, delta))
		return
	}
	// 序言 / 尾声中 $75 不持有任何值
	tmp := spu.FirstScratch
	b.Append(spu.NewImm(spu.OpIl, tmp, delta))
	b.Append(spu.NewRR(spu.OpA, cc.StackReg, cc.StackReg, tmp))
}
