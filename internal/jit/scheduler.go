package jit

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 指令调度
// ============================================================================
//
// 在每个块内按依赖图做表调度。转移把块分成若干区域，指令不跨越转移移动。
// 优先级为自身延迟加上后继的最大优先级; 优先级相同时选择流水线与发射槽奇偶性
// 一致的指令 (偶数槽对应偶流水线)，再按原始顺序。

// DepGraph 块内依赖图，边从先执行的指令指向后执行的指令
type DepGraph struct {
	Insts    []*spu.Instruction
	Succs    [][]int
	Preds    [][]int
	Priority []int
}

type instAccess struct {
	uses, defs *bitset.BitSet
	info       *spu.OpInfo
}

func (a *instAccess) memRead() bool {
	return a.info.Has(spu.EffectMemRead) || a.info.Has(spu.EffectCall)
}

func (a *instAccess) memWrite() bool {
	return a.info.Has(spu.EffectMemWrite) || a.info.Has(spu.EffectCall)
}

func (a *instAccess) channel() bool {
	return a.info.Has(spu.EffectChannel) || a.info.Has(spu.EffectCall)
}

// BuildDependencyGraph 计算寄存器 (RAW/WAR/WAW)、内存、通道和调用依赖
func BuildDependencyGraph(insts []*spu.Instruction) *DepGraph {
	n := len(insts)
	g := &DepGraph{
		Insts:    insts,
		Succs:    make([][]int, n),
		Preds:    make([][]int, n),
		Priority: make([]int, n),
	}

	acc := make([]instAccess, n)
	var regs []spu.Reg
	for i, inst := range insts {
		a := instAccess{uses: bitset.New(spu.NumHardware), defs: bitset.New(spu.NumHardware), info: inst.Info()}
		regs = inst.Uses(regs[:0])
		for _, r := range regs {
			if r != spu.NoReg {
				a.uses.Set(uint(r))
			}
		}
		regs = inst.Defs(regs[:0])
		for _, r := range regs {
			if r != spu.NoReg {
				a.defs.Set(uint(r))
			}
		}
		acc[i] = a
	}

	for j := 0; j < n; j++ {
		b := &acc[j]
		for i := 0; i < j; i++ {
			a := &acc[i]
			dep := a.defs.IntersectionCardinality(b.uses) > 0 || // RAW
				a.uses.IntersectionCardinality(b.defs) > 0 || // WAR
				a.defs.IntersectionCardinality(b.defs) > 0 || // WAW
				(a.memWrite() && (b.memRead() || b.memWrite())) ||
				(a.memRead() && b.memWrite()) ||
				(a.channel() && b.channel())
			if dep {
				g.Succs[i] = append(g.Succs[i], j)
				g.Preds[j] = append(g.Preds[j], i)
			}
		}
	}

	// 后继的下标总是更大，倒序计算即可
	for i := n - 1; i >= 0; i-- {
		best := 0
		for _, s := range g.Succs[i] {
			if g.Priority[s] > best {
				best = g.Priority[s]
			}
		}
		g.Priority[i] = acc[i].info.Latency + best
	}
	return g
}

// DependsOn j 是否直接依赖 i
func (g *DepGraph) DependsOn(j, i int) bool {
	for _, p := range g.Preds[j] {
		if p == i {
			return true
		}
	}
	return false
}

// Schedule 返回调度后的指令顺序
func (g *DepGraph) Schedule() []*spu.Instruction {
	n := len(g.Insts)
	remaining := make([]int, n)
	for i := range g.Insts {
		remaining[i] = len(g.Preds[i])
	}
	done := make([]bool, n)
	out := make([]*spu.Instruction, 0, n)

	for len(out) < n {
		want := spu.PipeEven
		if len(out)%2 == 1 {
			want = spu.PipeOdd
		}
		best := -1
		for i := 0; i < n; i++ {
			if done[i] || remaining[i] > 0 {
				continue
			}
			if best < 0 || g.better(i, best, want) {
				best = i
			}
		}
		done[best] = true
		out = append(out, g.Insts[best])
		for _, s := range g.Succs[best] {
			remaining[s]--
		}
	}
	return out
}

func (g *DepGraph) better(i, j int, want spu.Pipeline) bool {
	if g.Priority[i] != g.Priority[j] {
		return g.Priority[i] > g.Priority[j]
	}
	pi, pj := g.Insts[i].Info().Pipe == want, g.Insts[j].Info().Pipe == want
	if pi != pj {
		return pi
	}
	return i < j
}

// ScheduleBlock 调度一个块。转移 (包括块中间的条件转移) 是屏障:
// 两个转移之间的指令单独调度，转移本身保持原位
func ScheduleBlock(b *spu.BasicBlock) {
	insts := b.Instructions()
	if len(insts) < 2 {
		return
	}
	order := make([]*spu.Instruction, 0, len(insts))
	start := 0
	for i, inst := range insts {
		if !inst.Info().IsBranch() {
			continue
		}
		order = append(order, scheduleRegion(insts[start:i])...)
		order = append(order, inst)
		start = i + 1
	}
	order = append(order, scheduleRegion(insts[start:])...)
	b.Relink(order)
}

func scheduleRegion(insts []*spu.Instruction) []*spu.Instruction {
	if len(insts) < 2 {
		return insts
	}
	return BuildDependencyGraph(insts).Schedule()
}

func scheduleBlocks(blocks []*spu.BasicBlock) {
	for _, b := range blocks {
		ScheduleBlock(b)
	}
}
