// regalloc_graph.go - 图着色寄存器分配
//
// 迭代合并 (iterated register coalescing):
// 1. 按活跃性建立冲突图，寄存器复制指令记为候选合并
// 2. 简化: 移除度数小于 K 的非复制相关节点
// 3. 合并: Briggs / George 保守条件
// 4. 冻结: 放弃低度数节点的复制关系
// 5. 选择溢出: 代价 (使用+定义次数)/度数 最小者
// 6. 按出栈顺序着色，着不上色的节点真正溢出

package jit

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tangzhangming/spujit/internal/spu"
)

type nodeState uint8

const (
	nodeInitial nodeState = iota
	nodePrecolored
	nodeSimplify
	nodeFreeze
	nodeSpill
	nodeSpilled
	nodeCoalesced
	nodeColored
	nodeOnStack
)

// infiniteDegree 预着色节点的度数
const infiniteDegree = 1 << 30

// graphColoring 迭代合并着色器
type graphColoring struct {
	colors []spu.Reg
}

// ircState 一轮着色的全部状态，按寄存器编号稠密存放
type ircState struct {
	k      int
	colors []spu.Reg
	inPool *bitset.BitSet

	adj      []*bitset.BitSet
	adjList  [][]int
	degree   []int
	alias    []int
	color    []spu.Reg
	state    []nodeState
	cost     []float64
	noSpill  *bitset.BitSet
	present  *bitset.BitSet
	moveList [][]int

	moves         []*spu.Instruction
	worklistMoves *bitset.BitSet
	activeMoves   *bitset.BitSet

	simplifyWL *bitset.BitSet
	freezeWL   *bitset.BitSet
	spillWL    *bitset.BitSet
	stack      []int
}

func (g *graphColoring) color(blocks []*spu.BasicBlock, regs *regCounter, noSpill *bitset.BitSet) ([]spu.Reg, []spu.Reg) {
	live := ComputeLiveness(blocks, regs.Limit(), false)
	s := newIRCState(g.colors, int(regs.Limit()), noSpill)
	s.build(live)
	s.makeWorklist()
	for {
		switch {
		case s.simplifyWL.Any():
			s.simplify()
		case s.worklistMoves.Any():
			s.coalesce()
		case s.freezeWL.Any():
			s.freeze()
		case s.spillWL.Any():
			s.selectSpill()
		default:
			return s.assignColors()
		}
	}
}

func newIRCState(colors []spu.Reg, n int, noSpill *bitset.BitSet) *ircState {
	s := &ircState{
		k:             len(colors),
		colors:        colors,
		inPool:        bitset.New(spu.NumHardware),
		adj:           make([]*bitset.BitSet, n),
		adjList:       make([][]int, n),
		degree:        make([]int, n),
		alias:         make([]int, n),
		color:         make([]spu.Reg, n),
		state:         make([]nodeState, n),
		cost:          make([]float64, n),
		noSpill:       noSpill.Clone(),
		present:       bitset.New(uint(n)),
		moveList:      make([][]int, n),
		worklistMoves: bitset.New(0),
		activeMoves:   bitset.New(0),
		simplifyWL:    bitset.New(uint(n)),
		freezeWL:      bitset.New(uint(n)),
		spillWL:       bitset.New(uint(n)),
	}
	for _, c := range colors {
		s.inPool.Set(uint(c))
	}
	for i := 0; i < n; i++ {
		s.adj[i] = bitset.New(uint(n))
		s.alias[i] = i
		s.color[i] = spu.NoReg
		if i < spu.NumHardware {
			s.state[i] = nodePrecolored
			s.degree[i] = infiniteDegree
			s.color[i] = spu.Reg(i)
		}
	}
	return s
}

// node 参与分配的寄存器: 虚拟寄存器和 ABI 可分配的硬件寄存器
func node(r spu.Reg) bool {
	return r.IsVirtual() || spu.IsAllocatable(r)
}

func (s *ircState) precolored(n int) bool {
	return s.state[n] == nodePrecolored
}

// build 建立冲突图
func (s *ircState) build(live *Liveness) {
	var regs []spu.Reg
	for i, inst := range live.Insts {
		set := live.LiveOut[i].Clone()

		regs = inst.Uses(regs[:0])
		regs = inst.Defs(regs)
		for _, r := range regs {
			if r.IsVirtual() {
				s.present.Set(uint(r))
				s.cost[r]++
			}
		}

		if inst.IsMove() && node(inst.Rt) && node(inst.Ra) {
			set.Clear(uint(inst.Ra))
			m := len(s.moves)
			s.moves = append(s.moves, inst)
			s.moveList[inst.Rt] = append(s.moveList[inst.Rt], m)
			s.moveList[inst.Ra] = append(s.moveList[inst.Ra], m)
			s.worklistMoves.Set(uint(m))
		}

		defs := inst.Defs(regs[:0])
		for _, d := range defs {
			if node(d) {
				set.Set(uint(d))
			}
		}
		for _, d := range defs {
			if !node(d) {
				continue
			}
			for l, ok := set.NextSet(0); ok; l, ok = set.NextSet(l + 1) {
				if node(spu.Reg(l)) {
					s.addEdge(int(l), int(d))
				}
			}
		}
	}
}

func (s *ircState) addEdge(u, v int) {
	if u == v || s.adj[u].Test(uint(v)) {
		return
	}
	s.adj[u].Set(uint(v))
	s.adj[v].Set(uint(u))
	if !s.precolored(u) {
		s.adjList[u] = append(s.adjList[u], v)
		s.degree[u]++
	}
	if !s.precolored(v) {
		s.adjList[v] = append(s.adjList[v], u)
		s.degree[v]++
	}
}

func (s *ircState) makeWorklist() {
	for n, ok := s.present.NextSet(0); ok; n, ok = s.present.NextSet(n + 1) {
		switch {
		case s.degree[n] >= s.k:
			s.setState(int(n), nodeSpill)
		case s.moveRelated(int(n)):
			s.setState(int(n), nodeFreeze)
		default:
			s.setState(int(n), nodeSimplify)
		}
	}
}

// setState 把节点移入对应的工作表
func (s *ircState) setState(n int, st nodeState) {
	switch s.state[n] {
	case nodeSimplify:
		s.simplifyWL.Clear(uint(n))
	case nodeFreeze:
		s.freezeWL.Clear(uint(n))
	case nodeSpill:
		s.spillWL.Clear(uint(n))
	}
	s.state[n] = st
	switch st {
	case nodeSimplify:
		s.simplifyWL.Set(uint(n))
	case nodeFreeze:
		s.freezeWL.Set(uint(n))
	case nodeSpill:
		s.spillWL.Set(uint(n))
	}
}

// adjacent 仍在图中的邻居
func (s *ircState) adjacent(n int, f func(int)) {
	for _, m := range s.adjList[n] {
		if st := s.state[m]; st != nodeOnStack && st != nodeCoalesced {
			f(m)
		}
	}
}

func (s *ircState) nodeMoves(n int, f func(int)) {
	for _, m := range s.moveList[n] {
		if s.activeMoves.Test(uint(m)) || s.worklistMoves.Test(uint(m)) {
			f(m)
		}
	}
}

func (s *ircState) moveRelated(n int) bool {
	for _, m := range s.moveList[n] {
		if s.activeMoves.Test(uint(m)) || s.worklistMoves.Test(uint(m)) {
			return true
		}
	}
	return false
}

func (s *ircState) simplify() {
	n, _ := s.simplifyWL.NextSet(0)
	s.setState(int(n), nodeOnStack)
	s.stack = append(s.stack, int(n))
	s.adjacent(int(n), s.decrementDegree)
}

func (s *ircState) decrementDegree(m int) {
	if s.precolored(m) {
		return
	}
	d := s.degree[m]
	s.degree[m]--
	if d != s.k {
		return
	}
	s.enableMoves(m)
	s.adjacent(m, s.enableMoves)
	if s.state[m] != nodeSpill {
		return
	}
	if s.moveRelated(m) {
		s.setState(m, nodeFreeze)
	} else {
		s.setState(m, nodeSimplify)
	}
}

func (s *ircState) enableMoves(n int) {
	s.nodeMoves(n, func(m int) {
		if s.activeMoves.Test(uint(m)) {
			s.activeMoves.Clear(uint(m))
			s.worklistMoves.Set(uint(m))
		}
	})
}

func (s *ircState) getAlias(n int) int {
	for s.state[n] == nodeCoalesced {
		n = s.alias[n]
	}
	return n
}

func (s *ircState) coalesce() {
	mi, _ := s.worklistMoves.NextSet(0)
	s.worklistMoves.Clear(mi)
	m := s.moves[mi]
	x, y := s.getAlias(int(m.Ra)), s.getAlias(int(m.Rt))
	u, v := x, y
	if s.precolored(y) {
		u, v = y, x
	}

	switch {
	case u == v:
		s.addWorkList(u)
	case s.precolored(v) || s.adj[u].Test(uint(v)) || (s.precolored(u) && !s.inPool.Test(uint(u))):
		// 受约束: 两端冲突、两端都预着色，或目标寄存器不在可用颜色中
		s.addWorkList(u)
		s.addWorkList(v)
	case s.precolored(u) && s.georgeOK(u, v), !s.precolored(u) && s.briggsOK(u, v):
		s.combine(u, v)
		s.addWorkList(u)
	default:
		s.activeMoves.Set(mi)
	}
}

func (s *ircState) addWorkList(u int) {
	if !s.precolored(u) && !s.moveRelated(u) && s.degree[u] < s.k && s.state[u] == nodeFreeze {
		s.setState(u, nodeSimplify)
	}
}

// georgeOK v 的每个邻居要么低度数，要么已与 u 冲突
func (s *ircState) georgeOK(u, v int) bool {
	ok := true
	s.adjacent(v, func(t int) {
		if !(s.degree[t] < s.k || s.precolored(t) || s.adj[t].Test(uint(u))) {
			ok = false
		}
	})
	return ok
}

// briggsOK 合并后高度数邻居少于 K 个
func (s *ircState) briggsOK(u, v int) bool {
	seen := bitset.New(uint(len(s.state)))
	k := 0
	count := func(t int) {
		if seen.Test(uint(t)) {
			return
		}
		seen.Set(uint(t))
		if s.degree[t] >= s.k {
			k++
		}
	}
	s.adjacent(u, count)
	s.adjacent(v, count)
	return k < s.k
}

func (s *ircState) combine(u, v int) {
	s.setState(v, nodeCoalesced)
	s.alias[v] = u
	s.moveList[u] = append(s.moveList[u], s.moveList[v]...)
	s.cost[u] += s.cost[v]
	if !s.noSpill.Test(uint(v)) {
		s.noSpill.Clear(uint(u))
	}
	s.enableMoves(v)
	s.adjacent(v, func(t int) {
		s.addEdge(t, u)
		s.decrementDegree(t)
	})
	if s.degree[u] >= s.k && s.state[u] == nodeFreeze {
		s.setState(u, nodeSpill)
	}
}

func (s *ircState) freeze() {
	u, _ := s.freezeWL.NextSet(0)
	s.setState(int(u), nodeSimplify)
	s.freezeMoves(int(u))
}

func (s *ircState) freezeMoves(u int) {
	s.nodeMoves(u, func(mi int) {
		m := s.moves[mi]
		x, y := s.getAlias(int(m.Ra)), s.getAlias(int(m.Rt))
		v := y
		if y == s.getAlias(u) {
			v = x
		}
		s.activeMoves.Clear(uint(mi))
		s.worklistMoves.Clear(uint(mi))
		if s.state[v] == nodeFreeze && !s.moveRelated(v) && s.degree[v] < s.k {
			s.setState(v, nodeSimplify)
		}
	})
}

// selectSpill 选择代价最低的节点作为潜在溢出。溢出临时寄存器只在别无选择时才考虑
func (s *ircState) selectSpill() {
	best, bestCost, bestTemp := -1, 0.0, true
	for n, ok := s.spillWL.NextSet(0); ok; n, ok = s.spillWL.NextSet(n + 1) {
		temp := s.noSpill.Test(n)
		c := s.cost[n] / float64(s.degree[n])
		if best < 0 || (bestTemp && !temp) || (temp == bestTemp && c < bestCost) {
			best, bestCost, bestTemp = int(n), c, temp
		}
	}
	s.setState(best, nodeSimplify)
	s.freezeMoves(best)
}

// assignColors 返回 寄存器编号 -> 硬件寄存器 的映射和需要溢出的虚拟寄存器
func (s *ircState) assignColors() ([]spu.Reg, []spu.Reg) {
	var spilled []spu.Reg
	ok := bitset.New(spu.NumHardware)
	for len(s.stack) > 0 {
		n := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]

		ok.ClearAll()
		ok.InPlaceUnion(s.inPool)
		for _, w := range s.adjList[n] {
			a := s.getAlias(w)
			if st := s.state[a]; st == nodeColored || st == nodePrecolored {
				ok.Clear(uint(s.color[a]))
			}
		}
		chosen := spu.NoReg
		for _, c := range s.colors {
			if ok.Test(uint(c)) {
				chosen = c
				break
			}
		}
		if chosen == spu.NoReg {
			s.state[n] = nodeSpilled
			continue
		}
		s.state[n] = nodeColored
		s.color[n] = chosen
	}

	for n, ok := s.present.NextSet(0); ok; n, ok = s.present.NextSet(n + 1) {
		a := s.getAlias(int(n))
		if s.state[a] == nodeSpilled {
			spilled = append(spilled, spu.Reg(n))
			continue
		}
		s.color[n] = s.color[a]
	}
	return s.color, spilled
}
