package jit

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 活跃性分析
// ============================================================================

// Liveness 每条指令的活跃寄存器集合，按寄存器编号索引
type Liveness struct {
	Insts   []*spu.Instruction
	LiveIn  []*bitset.BitSet
	LiveOut []*bitset.BitSet

	index map[*spu.Instruction]int
	succ  [][]int
	width uint
}

// ComputeLiveness 对指令序列做后向数据流分析直到不动点。
// deadDefs 为真时被定义的寄存器也计入 LiveOut，线性扫描分配器据此让区间覆盖无用定义
func ComputeLiveness(blocks []*spu.BasicBlock, numRegs spu.Reg, deadDefs bool) *Liveness {
	l := &Liveness{index: make(map[*spu.Instruction]int), width: uint(numRegs)}

	// 块 -> 该块或其后第一个非空块的首条指令下标
	start := make(map[*spu.BasicBlock]int, len(blocks))
	for _, b := range blocks {
		start[b] = len(l.Insts)
		for inst := b.Head; inst != nil; inst = inst.Next {
			l.index[inst] = len(l.Insts)
			l.Insts = append(l.Insts, inst)
		}
	}
	n := len(l.Insts)

	l.succ = make([][]int, n)
	for i, inst := range l.Insts {
		info := inst.Info()
		target := -1
		if inst.Target != nil {
			if s, ok := start[inst.Target]; ok && s < n {
				target = s
			}
		}
		switch {
		case info.IsTerminator():
			// br 跳到目标; ret / bi 离开方法
			if inst.Op == spu.OpBr && target >= 0 {
				l.succ[i] = []int{target}
			}
		case info.Has(spu.EffectCondBranch):
			if i+1 < n {
				l.succ[i] = append(l.succ[i], i+1)
			}
			if target >= 0 && target != i+1 {
				l.succ[i] = append(l.succ[i], target)
			}
		default:
			if i+1 < n {
				l.succ[i] = []int{i + 1}
			}
		}
	}

	l.LiveIn = make([]*bitset.BitSet, n)
	l.LiveOut = make([]*bitset.BitSet, n)
	for i := range l.Insts {
		l.LiveIn[i] = bitset.New(l.width)
		l.LiveOut[i] = bitset.New(l.width)
	}

	uses := make([]*bitset.BitSet, n)
	defs := make([]*bitset.BitSet, n)
	var scratch []spu.Reg
	for i, inst := range l.Insts {
		uses[i] = bitset.New(l.width)
		defs[i] = bitset.New(l.width)
		scratch = inst.Uses(scratch[:0])
		for _, r := range scratch {
			if r != spu.NoReg {
				uses[i].Set(uint(r))
			}
		}
		scratch = inst.Defs(scratch[:0])
		for _, r := range scratch {
			if r != spu.NoReg {
				defs[i].Set(uint(r))
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			out := bitset.New(l.width)
			for _, s := range l.succ[i] {
				out.InPlaceUnion(l.LiveIn[s])
			}
			if deadDefs {
				out.InPlaceUnion(defs[i])
			}
			in := out.Difference(defs[i])
			in.InPlaceUnion(uses[i])

			if !out.Equal(l.LiveOut[i]) || !in.Equal(l.LiveIn[i]) {
				l.LiveOut[i], l.LiveIn[i] = out, in
				changed = true
			}
		}
	}
	return l
}

// In 指令之前活跃的寄存器
func (l *Liveness) In(inst *spu.Instruction) *bitset.BitSet {
	return l.LiveIn[l.index[inst]]
}

// Out 指令之后活跃的寄存器
func (l *Liveness) Out(inst *spu.Instruction) *bitset.BitSet {
	return l.LiveOut[l.index[inst]]
}

// Successors 指令在平铺序列中的后继下标
func (l *Liveness) Successors(i int) []int {
	return l.succ[i]
}

// Equal 两次分析结果是否相同
func (l *Liveness) Equal(o *Liveness) bool {
	if len(l.Insts) != len(o.Insts) {
		return false
	}
	for i := range l.Insts {
		if l.Insts[i] != o.Insts[i] || !l.LiveIn[i].Equal(o.LiveIn[i]) || !l.LiveOut[i].Equal(o.LiveOut[i]) {
			return false
		}
	}
	return true
}

// Regs 集合中的寄存器
func Regs(set *bitset.BitSet) []spu.Reg {
	out := make([]spu.Reg, 0, set.Count())
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		out = append(out, spu.Reg(i))
	}
	return out
}
