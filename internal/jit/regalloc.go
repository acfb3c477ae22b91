// regalloc.go - 寄存器分配
//
// 分配器把虚拟寄存器映射到硬件寄存器。着不上色的虚拟寄存器被溢出到帧槽，
// 改写代码后重新分析，直到不再溢出或超过轮数上限。
//
// 提供两种着色器:
// - 图着色 (迭代合并)，见 regalloc_graph.go
// - 线性扫描: 每个虚拟寄存器一个活跃区间，按起点顺序扫描
//
// 线性扫描时间复杂度 O(n log n)，适合没有循环的方法

package jit

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/tangzhangming/spujit/internal/spu"
)

// AllocatorKind 分配策略
type AllocatorKind string

const (
	AllocatorGraph  AllocatorKind = "graph"
	AllocatorLinear AllocatorKind = "linear"
	// AllocatorAuto 没有后向跳转时用线性扫描，否则用图着色
	AllocatorAuto AllocatorKind = "auto"
)

// colorer 一轮着色: 返回 寄存器编号 -> 硬件寄存器 的映射和需要溢出的虚拟寄存器
type colorer interface {
	color(blocks []*spu.BasicBlock, regs *regCounter, noSpill *bitset.BitSet) ([]spu.Reg, []spu.Reg)
}

// AllocStats 分配统计
type AllocStats struct {
	Rounds       int
	Spilled      int
	MovesRemoved int
	Strategy     AllocatorKind
}

// registerAllocator 分配驱动
type registerAllocator struct {
	method      string
	kind        AllocatorKind
	colors      []spu.Reg
	maxRounds   int
	removeMoves bool
	log         *zap.Logger
}

func (ra *registerAllocator) run(blocks []*spu.BasicBlock, frame *FrameLayout, regs *regCounter) (AllocStats, error) {
	stats := AllocStats{Strategy: ra.kind}
	if stats.Strategy == AllocatorAuto || stats.Strategy == "" {
		stats.Strategy = AllocatorLinear
		if hasBackEdge(blocks) {
			stats.Strategy = AllocatorGraph
		}
	}
	var c colorer = &graphColoring{colors: ra.colors}
	if stats.Strategy == AllocatorLinear {
		c = &linearScan{colors: ra.colors}
	}

	noSpill := bitset.New(uint(regs.Limit()))
	for {
		stats.Rounds++
		coloring, spills := c.color(blocks, regs, noSpill)
		if len(spills) == 0 {
			if err := verifyColoring(blocks, regs, coloring); err != nil {
				return stats, &InternalError{Method: ra.method, Offset: -1, Msg: err.Error()}
			}
			applyColoring(blocks, coloring)
			if ra.removeMoves {
				stats.MovesRemoved = removeRedundantMoves(blocks)
			}
			frame.SetCalleeSaved(usedCalleeSaved(blocks))
			return stats, nil
		}
		if stats.Rounds > ra.maxRounds {
			return stats, &AllocationError{Method: ra.method, Rounds: stats.Rounds,
				Reason: fmt.Sprintf("%d registers still spilled with %d colors", len(spills), len(ra.colors))}
		}
		ra.log.Debug("spill round",
			zap.String("method", ra.method),
			zap.Int("round", stats.Rounds),
			zap.Int("spilled", len(spills)))
		stats.Spilled += len(spills)
		rewriteSpills(blocks, spills, frame, regs, noSpill)
	}
}

// hasBackEdge 是否有跳到自身或更早块的转移
func hasBackEdge(blocks []*spu.BasicBlock) bool {
	pos := make(map[*spu.BasicBlock]int, len(blocks))
	for i, b := range blocks {
		pos[b] = i
	}
	for i, b := range blocks {
		for inst := b.Head; inst != nil; inst = inst.Next {
			if inst.Target != nil {
				if p, ok := pos[inst.Target]; ok && p <= i {
					return true
				}
			}
		}
	}
	return false
}

// verifyColoring 着色必须满足冲突关系: 定义点的寄存器与同时活跃的其它值颜色不同
func verifyColoring(blocks []*spu.BasicBlock, regs *regCounter, coloring []spu.Reg) error {
	live := ComputeLiveness(blocks, regs.Limit(), false)
	colorOf := func(r spu.Reg) spu.Reg {
		if r.IsVirtual() {
			return coloring[r]
		}
		return r
	}
	var defs []spu.Reg
	for i, inst := range live.Insts {
		defs = inst.Defs(defs[:0])
		out := live.LiveOut[i]
		for _, d := range defs {
			if !node(d) {
				continue
			}
			cd := colorOf(d)
			if cd == spu.NoReg {
				return fmt.Errorf("%s has no color", d)
			}
			for l, ok := out.NextSet(0); ok; l, ok = out.NextSet(l + 1) {
				r := spu.Reg(l)
				if r == d || !node(r) || (inst.IsMove() && r == inst.Ra) {
					continue
				}
				if colorOf(r) == cd {
					return fmt.Errorf("%s: %s and %s are both live in %s", inst, d, r, cd)
				}
			}
		}
	}
	return nil
}

func applyColoring(blocks []*spu.BasicBlock, coloring []spu.Reg) {
	for _, b := range blocks {
		for inst := b.Head; inst != nil; inst = inst.Next {
			inst.MapRegs(func(r spu.Reg) spu.Reg {
				if r.IsVirtual() {
					return coloring[r]
				}
				return r
			})
		}
	}
}

// removeRedundantMoves 删除着色后源与目的相同的复制
func removeRedundantMoves(blocks []*spu.BasicBlock) int {
	n := 0
	for _, b := range blocks {
		for inst := b.Head; inst != nil; {
			next := inst.Next
			if inst.IsMove() && inst.Rt == inst.Ra {
				b.Remove(inst)
				n++
			}
			inst = next
		}
	}
	return n
}

// usedCalleeSaved 被写入的被调用者保存寄存器，升序
func usedCalleeSaved(blocks []*spu.BasicBlock) []spu.Reg {
	used := bitset.New(spu.NumHardware)
	for _, b := range blocks {
		for inst := b.Head; inst != nil; inst = inst.Next {
			if d := inst.Def(); spu.IsCalleeSaved(d) {
				used.Set(uint(d))
			}
		}
	}
	return Regs(used)
}

// VerifyAllocation 分配完成后不能残留虚拟寄存器，也不能使用保留寄存器 $2
func VerifyAllocation(blocks []*spu.BasicBlock) error {
	var regs []spu.Reg
	for _, b := range blocks {
		for inst := b.Head; inst != nil; inst = inst.Next {
			regs = inst.Uses(regs[:0])
			regs = inst.Defs(regs)
			for _, r := range regs {
				switch {
				case r.IsVirtual():
					return fmt.Errorf("%s: %s: virtual register %s after allocation", b.Label(), inst, r)
				case r == spu.Env:
					return fmt.Errorf("%s: %s: reserved register %s", b.Label(), inst, r)
				}
			}
		}
	}
	return nil
}

// ============================================================================
// 线性扫描
// ============================================================================

// LiveInterval 活跃区间。每条指令占两个位置: 2i 为指令之前，2i+1 为指令之后
type LiveInterval struct {
	Reg   spu.Reg // 虚拟寄存器
	Start int
	End   int
	Color spu.Reg // 分配到的硬件寄存器，NoReg 表示未分配或溢出
}

// Extend 扩展区间以包含 pos
func (li *LiveInterval) Extend(pos int) {
	if pos < li.Start {
		li.Start = pos
	}
	if pos > li.End {
		li.End = pos
	}
}

// Overlaps 检查两个区间是否重叠
func (li *LiveInterval) Overlaps(other *LiveInterval) bool {
	return li.Start <= other.End && other.Start <= li.End
}

type linearScan struct {
	colors []spu.Reg
}

// scanState 一轮扫描的状态
type scanState struct {
	colors  []spu.Reg
	fixed   []*bitset.BitSet // 硬件寄存器 -> 被占用的位置
	active  []*LiveInterval  // 按终点排序
	inUse   *bitset.BitSet
	noSpill *bitset.BitSet
	spilled []spu.Reg
}

func (ls *linearScan) color(blocks []*spu.BasicBlock, regs *regCounter, noSpill *bitset.BitSet) ([]spu.Reg, []spu.Reg) {
	live := ComputeLiveness(blocks, regs.Limit(), true)
	intervals, fixed := computeLiveIntervals(live)

	st := &scanState{colors: ls.colors, fixed: fixed, inUse: bitset.New(spu.NumHardware), noSpill: noSpill}
	for _, cur := range intervals {
		st.expireOldIntervals(cur)
		if c := st.allocateFreeReg(cur); c != spu.NoReg {
			cur.Color = c
			st.addToActive(cur)
			continue
		}
		st.spillAtInterval(cur)
	}

	coloring := make([]spu.Reg, regs.Limit())
	for i := range coloring {
		coloring[i] = spu.NoReg
	}
	for _, li := range intervals {
		coloring[li.Reg] = li.Color
	}
	sort.Slice(st.spilled, func(i, j int) bool { return st.spilled[i] < st.spilled[j] })
	return coloring, st.spilled
}

// computeLiveIntervals 虚拟寄存器的区间 (按起点排序) 和硬件寄存器被占用的位置
func computeLiveIntervals(live *Liveness) ([]*LiveInterval, []*bitset.BitSet) {
	byReg := make(map[spu.Reg]*LiveInterval)
	fixed := make([]*bitset.BitSet, spu.NumHardware)
	for i := range fixed {
		fixed[i] = bitset.New(uint(2 * len(live.Insts)))
	}
	mark := func(r spu.Reg, pos int) {
		if !r.IsVirtual() {
			if r.IsHardware() {
				fixed[r].Set(uint(pos))
			}
			return
		}
		li, ok := byReg[r]
		if !ok {
			li = &LiveInterval{Reg: r, Start: pos, End: pos, Color: spu.NoReg}
			byReg[r] = li
		}
		li.Extend(pos)
	}

	var regs []spu.Reg
	for i, inst := range live.Insts {
		for r, ok := live.LiveIn[i].NextSet(0); ok; r, ok = live.LiveIn[i].NextSet(r + 1) {
			mark(spu.Reg(r), 2*i)
		}
		for r, ok := live.LiveOut[i].NextSet(0); ok; r, ok = live.LiveOut[i].NextSet(r + 1) {
			mark(spu.Reg(r), 2*i+1)
		}
		// 读取点也属于区间，即使值在此之后不再活跃
		regs = inst.Uses(regs[:0])
		for _, r := range regs {
			mark(r, 2*i)
		}
	}

	intervals := make([]*LiveInterval, 0, len(byReg))
	for _, li := range byReg {
		intervals = append(intervals, li)
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start != intervals[j].Start {
			return intervals[i].Start < intervals[j].Start
		}
		return intervals[i].Reg < intervals[j].Reg
	})
	return intervals, fixed
}

// expireOldIntervals 释放已经结束的区间
func (st *scanState) expireOldIntervals(cur *LiveInterval) {
	kept := st.active[:0]
	for _, a := range st.active {
		if a.End < cur.Start {
			st.inUse.Clear(uint(a.Color))
		} else {
			kept = append(kept, a)
		}
	}
	st.active = kept
}

// fits 硬件寄存器在区间内没有被固定占用
func (st *scanState) fits(c spu.Reg, li *LiveInterval) bool {
	p, ok := st.fixed[c].NextSet(uint(li.Start))
	return !ok || int(p) > li.End
}

// allocateFreeReg 按颜色顺序找一个空闲寄存器
func (st *scanState) allocateFreeReg(li *LiveInterval) spu.Reg {
	for _, c := range st.colors {
		if !st.inUse.Test(uint(c)) && st.fits(c, li) {
			st.inUse.Set(uint(c))
			return c
		}
	}
	return spu.NoReg
}

// spillAtInterval 溢出终点最远且寄存器可供当前区间使用的活跃区间，否则溢出当前区间
func (st *scanState) spillAtInterval(cur *LiveInterval) {
	victim := -1
	for i := len(st.active) - 1; i >= 0; i-- {
		a := st.active[i]
		if st.noSpill.Test(uint(a.Reg)) || !st.fits(a.Color, cur) {
			continue
		}
		victim = i
		break
	}
	if victim >= 0 && (st.active[victim].End > cur.End || st.noSpill.Test(uint(cur.Reg))) {
		a := st.active[victim]
		cur.Color = a.Color
		a.Color = spu.NoReg
		st.spilled = append(st.spilled, a.Reg)
		st.active = append(st.active[:victim], st.active[victim+1:]...)
		st.addToActive(cur)
		return
	}
	st.spilled = append(st.spilled, cur.Reg)
}

// addToActive 将区间加入活跃列表 (保持按终点排序)
func (st *scanState) addToActive(li *LiveInterval) {
	i := sort.Search(len(st.active), func(i int) bool {
		return st.active[i].End >= li.End
	})
	st.active = append(st.active, nil)
	copy(st.active[i+1:], st.active[i:])
	st.active[i] = li
}
