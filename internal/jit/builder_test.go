package jit

import (
	"errors"
	"reflect"
	"testing"

	bc "github.com/tangzhangming/spujit/internal/bytecode"
)

func rootOps(b *Block) []bc.OpCode {
	out := make([]bc.OpCode, len(b.Roots))
	for i, r := range b.Roots {
		out[i] = r.Opcode()
	}
	return out
}

func TestBuildTreeConditionalDoesNotSplit(t *testing.T) {
	tm, err := BuildTree(maxMethod())
	if err != nil {
		t.Fatal(err)
	}
	if len(tm.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2\n%s", len(tm.Blocks), tm)
	}
	b0 := tm.Blocks[0]
	if got := rootOps(b0); !reflect.DeepEqual(got, []bc.OpCode{bc.OpBle, bc.OpRet}) {
		t.Errorf("B0 roots = %v", got)
	}
	if !reflect.DeepEqual(b0.Out, []int{1}) {
		t.Errorf("B0.Out = %v, want [1]", b0.Out)
	}
	if !reflect.DeepEqual(tm.Blocks[1].In, []int{0}) {
		t.Errorf("B1.In = %v, want [0]", tm.Blocks[1].In)
	}
	ble := b0.Roots[0].(*OpTree)
	if ble.Operand.Kind != OperandBlock || ble.Operand.Target != 1 {
		t.Errorf("ble operand = %+v, want block 1", ble.Operand)
	}
}

func TestBuildTreeStackMerge(t *testing.T) {
	m := ternary()
	tm, err := BuildTree(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(tm.Blocks) != 3 || len(tm.Temps) != 1 {
		t.Fatalf("got %d blocks, %d temps\n%s", len(tm.Blocks), len(tm.Temps), tm)
	}
	want := [][]bc.OpCode{
		{bc.OpBrfalse, bc.OpStloc, bc.OpBr},
		{bc.OpStloc},
		{bc.OpRet},
	}
	for i, b := range tm.Blocks {
		if got := rootOps(b); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("B%d roots = %v, want %v", i, got, want[i])
		}
	}

	tmp := tm.Temps[0]
	for _, r := range []Tree{tm.Blocks[0].Roots[1], tm.Blocks[1].Roots[0]} {
		st := r.(*OpTree)
		if !st.Synthetic() || st.Operand.Var != tmp {
			t.Errorf("%s: want a synthetic store into %s", st, tmp)
		}
	}
	ret := tm.Blocks[2].Roots[0].(*OpTree)
	if ld := ret.Args[0].(*OpTree); !ld.Synthetic() || ld.Operand.Var != tmp {
		t.Errorf("ret operand = %s, want a load of %s", ld, tmp)
	}

	if !reflect.DeepEqual(tm.Blocks[0].Out, []int{1, 2}) {
		t.Errorf("B0.Out = %v", tm.Blocks[0].Out)
	}
	if !reflect.DeepEqual(tm.Blocks[1].Out, []int{2}) {
		t.Errorf("B1.Out = %v", tm.Blocks[1].Out)
	}
	if !reflect.DeepEqual(tm.Blocks[2].In, []int{0, 1}) {
		t.Errorf("B2.In = %v", tm.Blocks[2].In)
	}
	if got, want := tm.NodeCount(), len(m.Body); got != want {
		t.Errorf("NodeCount = %d, want %d", got, want)
	}
}

func TestBuildTreeNodeCountMatchesBody(t *testing.T) {
	methods := []*bc.Method{
		maxMethod(), sumLoop("sum", false), sumLoop("sumsq", true), ternary(),
		arraySum(), arrayPatch(), addressTaken(), wide(6), square(), channelEcho(),
	}
	for _, m := range methods {
		tm, err := BuildTree(m)
		if err != nil {
			t.Errorf("%s: %v", m.Name, err)
			continue
		}
		if got := tm.NodeCount(); got != len(m.Body) {
			t.Errorf("%s: NodeCount = %d, want %d", m.Name, got, len(m.Body))
		}
	}
}

func TestBuildTreeDupUsesTemp(t *testing.T) {
	tm, err := BuildTree(square())
	if err != nil {
		t.Fatal(err)
	}
	if len(tm.Temps) != 1 {
		t.Fatalf("got %d temps, want 1", len(tm.Temps))
	}
	roots := tm.Blocks[0].Roots
	if got := rootOps(tm.Blocks[0]); !reflect.DeepEqual(got, []bc.OpCode{bc.OpDup, bc.OpRet}) {
		t.Fatalf("roots = %v", got)
	}
	if roots[0].Synthetic() {
		t.Error("dup root must not be synthetic")
	}
	mul := roots[1].Children()[0]
	for _, c := range mul.Children() {
		if ld := c.(*OpTree); ld.Operand.Var != tm.Temps[0] {
			t.Errorf("mul operand %s does not read the dup temp", ld)
		}
	}
}

func TestBuildTreeSpillsEffectsBeforeRoot(t *testing.T) {
	f := &bc.FieldRef{Name: "f", Type: bc.TypeI4}
	a := bc.NewAssembler("swap", bc.TypeI4)
	a.EmitField(bc.OpLdsfld, f).EmitInt(bc.OpLdcI4, 9).EmitField(bc.OpStsfld, f).Emit(bc.OpRet)
	tm, err := BuildTree(a.MustFinish())
	if err != nil {
		t.Fatal(err)
	}
	roots := tm.Blocks[0].Roots
	if got := rootOps(tm.Blocks[0]); !reflect.DeepEqual(got, []bc.OpCode{bc.OpStloc, bc.OpStsfld, bc.OpRet}) {
		t.Fatalf("roots = %v", got)
	}
	if !roots[0].Synthetic() || roots[0].Children()[0].Opcode() != bc.OpLdsfld {
		t.Errorf("first root = %s, want the field read stored into a temp", roots[0])
	}
}

func TestBuildTreeEscapes(t *testing.T) {
	tm, err := BuildTree(addressTaken())
	if err != nil {
		t.Fatal(err)
	}
	tm.DetermineEscapes()
	if !tm.Locals[0].Escapes {
		t.Error("address-taken local not marked")
	}
	if tm.EscapeCount() != 1 {
		t.Errorf("EscapeCount = %d", tm.EscapeCount())
	}

	tm, err = BuildTree(sumLoop("sum", false))
	if err != nil {
		t.Fatal(err)
	}
	tm.DetermineEscapes()
	if n := tm.EscapeCount(); n != 0 {
		t.Errorf("EscapeCount = %d, want 0", n)
	}
}

func TestBuildTreeErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(a *bc.Assembler)
	}{
		{"stack depth mismatch", func(a *bc.Assembler) {
			a.EmitParam(bc.OpLdarg, 0).EmitBranch(bc.OpBrfalse, "l")
			a.EmitInt(bc.OpLdcI4, 1)
			a.Label("l")
			a.EmitInt(bc.OpLdcI4, 2).Emit(bc.OpRet)
		}},
		{"stack underflow", func(a *bc.Assembler) {
			a.Emit(bc.OpAdd).Emit(bc.OpRet)
		}},
		{"falls off the end", func(a *bc.Assembler) {
			a.EmitParam(bc.OpLdarg, 0).Emit(bc.OpPop)
		}},
		{"values left at return", func(a *bc.Assembler) {
			a.EmitInt(bc.OpLdcI4, 1).EmitInt(bc.OpLdcI4, 2).Emit(bc.OpRet)
		}},
		{"bad element access", func(a *bc.Assembler) {
			a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 0).Emit(bc.OpLdelemI4).Emit(bc.OpRet)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := bc.NewAssembler("bad", bc.TypeI4, bc.TypeI4)
			tt.build(a)
			_, err := BuildTree(a.MustFinish())
			if !errors.Is(err, ErrInternal) {
				t.Fatalf("got %v, want ErrInternal", err)
			}
			var ie *InternalError
			if !errors.As(err, &ie) || ie.Method != "bad" {
				t.Errorf("error = %#v", err)
			}
		})
	}
}

func TestBuildTreeValidatesBody(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(m *bc.Method)
	}{
		{"parameter out of range", func(m *bc.Method) { m.Body[0].Operand.Index = 7 }},
		{"branch into an operand", func(m *bc.Method) { m.Body[2].Operand.Target = 1 }},
		{"offset gap", func(m *bc.Method) { m.Body[1].Offset += 2 }},
		{"operand kind", func(m *bc.Method) { m.Body[0].Op = bc.OpLdloc }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := maxMethod()
			tt.corrupt(m)
			_, err := BuildTree(m)
			var ie *InternalError
			if !errors.As(err, &ie) || ie.Method != m.Name {
				t.Fatalf("got %v, want *InternalError", err)
			}
		})
	}
}

func TestBuildTreeUnsupportedType(t *testing.T) {
	a := bc.NewAssembler("void_param", bc.TypeVoid, bc.TypeVoid)
	a.Emit(bc.OpRet)
	_, err := BuildTree(a.MustFinish())
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
}
