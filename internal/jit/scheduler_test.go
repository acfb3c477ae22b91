package jit

import (
	"testing"

	"github.com/tangzhangming/spujit/internal/spu"
)

func TestDependencyGraph(t *testing.T) {
	insts := []*spu.Instruction{
		spu.NewRI(spu.OpLqd, 10, spu.SP, 0),    // 0
		spu.NewRR(spu.OpA, 11, 10, 10),         // 1
		spu.NewImm(spu.OpIl, 12, 5),            // 2
		spu.NewRI(spu.OpStqd, 11, spu.SP, 16),  // 3
		spu.NewRI(spu.OpAi, 10, 12, 1),         // 4
		spu.NewChannel(spu.OpRdch, 13, 3),      // 5
		spu.NewChannel(spu.OpWrch, 14, 4),      // 6
	}
	g := BuildDependencyGraph(insts)

	deps := []struct {
		j, i int
		want bool
		why  string
	}{
		{1, 0, true, "read after write"},
		{3, 1, true, "stored value"},
		{3, 0, true, "store after load"},
		{4, 1, true, "write after read"},
		{4, 0, true, "write after write"},
		{4, 2, true, "immediate operand"},
		{2, 0, false, "independent constant"},
		{2, 1, false, "independent constant"},
		{4, 3, false, "no shared register"},
		{6, 5, true, "channel order"},
		{5, 3, false, "channel and memory"},
	}
	for _, d := range deps {
		if got := g.DependsOn(d.j, d.i); got != d.want {
			t.Errorf("%s: DependsOn(%d, %d) = %v", d.why, d.j, d.i, got)
		}
	}

	// 优先级: 自身延迟 + 后继最大优先级
	if g.Priority[3] != 6 {
		t.Errorf("priority of the store = %d, want 6", g.Priority[3])
	}
	if g.Priority[1] != 2+6 {
		t.Errorf("priority of a = %d, want 8", g.Priority[1])
	}
	if g.Priority[0] != 6+8 {
		t.Errorf("priority of lqd = %d, want 14", g.Priority[0])
	}

	order := g.Schedule()
	if len(order) != len(insts) {
		t.Fatalf("scheduled %d of %d instructions", len(order), len(insts))
	}
	pos := make(map[*spu.Instruction]int, len(order))
	for i, inst := range order {
		pos[inst] = i
	}
	for j := range insts {
		for _, i := range g.Preds[j] {
			if pos[insts[i]] >= pos[insts[j]] {
				t.Errorf("%s scheduled before %s", insts[j], insts[i])
			}
		}
	}
}

func TestSchedulePrefersMatchingPipe(t *testing.T) {
	odd := spu.NewRI(spu.OpRotqbyi, 10, 3, 1)
	even := spu.NewRI(spu.OpShli, 11, 4, 2)
	order := BuildDependencyGraph([]*spu.Instruction{odd, even}).Schedule()
	if order[0] != even || order[1] != odd {
		t.Errorf("order = %v, want the even-pipe instruction first", order)
	}
}

func TestScheduleBlockKeepsBranchLast(t *testing.T) {
	b := spu.NewBlock("B0")
	target := spu.NewBlock("B1")
	b.Append(spu.NewImm(spu.OpIl, 10, 1))
	b.Append(spu.NewRI(spu.OpLqd, 11, spu.SP, 32))
	b.Append(spu.NewRR(spu.OpA, 12, 11, 11))
	br := b.Append(spu.NewBranch(spu.OpBrnz, 10, target))

	ScheduleBlock(b)
	if b.Tail != br {
		t.Errorf("last instruction is %s, want the branch", b.Tail)
	}
	if b.Len() != 4 {
		t.Errorf("block has %d instructions", b.Len())
	}
	// lqd 优先级最高
	if b.Head.Op != spu.OpLqd {
		t.Errorf("first instruction is %s, want lqd", b.Head)
	}
}

func TestScheduleBlockBranchIsBarrier(t *testing.T) {
	b := spu.NewBlock("B0")
	target := spu.NewBlock("B1")
	il := b.Append(spu.NewImm(spu.OpIl, 10, 1))
	lq1 := b.Append(spu.NewRI(spu.OpLqd, 11, spu.SP, 32))
	brnz := b.Append(spu.NewBranch(spu.OpBrnz, 10, target))
	// 与 brnz 无依赖，但不能越过它
	lq2 := b.Append(spu.NewRI(spu.OpLqd, 12, spu.SP, 48))
	add := b.Append(spu.NewRR(spu.OpA, 13, 12, 11))
	br := b.Append(spu.NewBranch(spu.OpBr, spu.NoReg, target))

	ScheduleBlock(b)
	got := b.Instructions()
	if len(got) != 6 {
		t.Fatalf("block has %d instructions", len(got))
	}
	pos := make(map[*spu.Instruction]int, len(got))
	for i, inst := range got {
		pos[inst] = i
	}
	if pos[brnz] != 2 || pos[br] != 5 {
		t.Errorf("branches moved: brnz at %d, br at %d", pos[brnz], pos[br])
	}
	for _, inst := range []*spu.Instruction{il, lq1} {
		if pos[inst] > pos[brnz] {
			t.Errorf("%s moved below the conditional branch", inst)
		}
	}
	for _, inst := range []*spu.Instruction{lq2, add} {
		if pos[inst] < pos[brnz] {
			t.Errorf("%s hoisted above the conditional branch", inst)
		}
	}
	if pos[lq2] > pos[add] {
		t.Error("use scheduled before its load")
	}
}

func TestSchedulingPreservesSemantics(t *testing.T) {
	noSched := testConfig()
	for _, tc := range []struct {
		name string
		run  func(c Config) uint32
	}{
		{"sum", func(c Config) uint32 { return run(t, sumLoop("sum", true), c, 7) }},
		{"max", func(c Config) uint32 { return run(t, maxMethod(), c, 4, 2) }},
		{"wide", func(c Config) uint32 { return run(t, wide(12), c, 1) }},
		{"ternary", func(c Config) uint32 { return run(t, ternary(), c, 0) }},
	} {
		a, b := tc.run(DefaultConfig()), tc.run(noSched)
		if a != b {
			t.Errorf("%s: %d scheduled, %d unscheduled", tc.name, a, b)
		}
	}
}
