package jit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/jit/types"
	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 树形 IR
// ============================================================================

// VarKind 变量种类
type VarKind uint8

const (
	VarParam VarKind = iota
	VarLocal
	VarTemp // 构建器引入的栈临时变量
)

// Variable 参数、局部变量或栈临时变量
type Variable struct {
	Index   int // 方法内唯一编号
	Kind    VarKind
	Number  int // 参数 / 局部变量编号
	Type    types.StackSlotType
	Escapes bool // 被取地址，必须放在栈帧中

	// 指令选择阶段填写
	Reg         spu.Reg
	FrameOffset int
}

func (v *Variable) String() string {
	switch v.Kind {
	case VarParam:
		return "arg" + strconv.Itoa(v.Number)
	case VarLocal:
		return "loc" + strconv.Itoa(v.Number)
	}
	return "tmp" + strconv.Itoa(v.Number)
}

// OperandKind 树节点操作数种类
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandFloat
	OperandVar
	OperandTarget // 解析前: 字节码偏移
	OperandBlock  // 解析后: 块下标
	OperandField
)

// Operand 树节点的操作数
type Operand struct {
	Kind  OperandKind
	Int   int64
	Float float64
	Var   *Variable
	// Target 为字节码偏移 (OperandTarget) 或块下标 (OperandBlock)
	Target int
	Field  *bytecode.FieldRef
}

// Tree 树节点: *OpTree 或 *CallTree
type Tree interface {
	Opcode() bytecode.OpCode
	SlotType() types.StackSlotType
	ILOffset() int
	Synthetic() bool
	Children() []Tree
	fmt.Stringer
}

// OpTree 普通操作节点
type OpTree struct {
	Op      bytecode.OpCode
	Offset  int // 字节码偏移，合成节点为 -1
	Synth   bool
	Type    types.StackSlotType
	Operand Operand
	Args    []Tree
}

// CallTree 方法调用 (含通道内建函数)
type CallTree struct {
	Method *bytecode.MethodRef
	Offset int
	Type   types.StackSlotType
	Args   []Tree
}

func (t *OpTree) Opcode() bytecode.OpCode        { return t.Op }
func (t *OpTree) SlotType() types.StackSlotType { return t.Type }
func (t *OpTree) ILOffset() int                 { return t.Offset }
func (t *OpTree) Synthetic() bool               { return t.Synth }
func (t *OpTree) Children() []Tree              { return t.Args }

func (t *CallTree) Opcode() bytecode.OpCode        { return bytecode.OpCall }
func (t *CallTree) SlotType() types.StackSlotType { return t.Type }
func (t *CallTree) ILOffset() int                 { return t.Offset }
func (t *CallTree) Synthetic() bool               { return false }
func (t *CallTree) Children() []Tree              { return t.Args }

func (t *OpTree) String() string {
	var sb strings.Builder
	if t.Synth {
		sb.WriteByte('~')
	}
	sb.WriteString(t.Op.String())
	switch t.Operand.Kind {
	case OperandInt:
		sb.WriteString(" " + strconv.FormatInt(t.Operand.Int, 10))
	case OperandFloat:
		sb.WriteString(" " + strconv.FormatFloat(t.Operand.Float, 'g', -1, 64))
	case OperandVar:
		sb.WriteString(" " + t.Operand.Var.String())
	case OperandTarget:
		fmt.Fprintf(&sb, " IL_%04x", t.Operand.Target)
	case OperandBlock:
		sb.WriteString(" B" + strconv.Itoa(t.Operand.Target))
	case OperandField:
		sb.WriteString(" " + t.Operand.Field.Name)
	}
	writeArgs(&sb, t.Args)
	return sb.String()
}

func (t *CallTree) String() string {
	var sb strings.Builder
	sb.WriteString("call " + t.Method.Name)
	writeArgs(&sb, t.Args)
	return sb.String()
}

func writeArgs(sb *strings.Builder, args []Tree) {
	if len(args) == 0 {
		return
	}
	sb.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
}

// Walk 后序遍历
func Walk(t Tree, f func(Tree)) {
	for _, c := range t.Children() {
		Walk(c, f)
	}
	f(t)
}

// Block 树 IR 的扩展基本块
type Block struct {
	Index  int
	Offset int // 第一条字节码的偏移
	Roots  []Tree
	In     []int // 前驱块下标
	Out    []int // 后继块下标
}

// TreeMethod 一个方法的树 IR
type TreeMethod struct {
	Method  *bytecode.Method
	Returns types.StackSlotType
	Params  []*Variable
	Locals  []*Variable
	Temps   []*Variable
	Blocks  []*Block
}

// Variables 所有变量
func (m *TreeMethod) Variables() []*Variable {
	out := make([]*Variable, 0, len(m.Params)+len(m.Locals)+len(m.Temps))
	out = append(out, m.Params...)
	out = append(out, m.Locals...)
	return append(out, m.Temps...)
}

// NodeCount 非合成节点数，应等于字节码指令数
func (m *TreeMethod) NodeCount() int {
	n := 0
	m.ForEachNode(func(t Tree) {
		if !t.Synthetic() {
			n++
		}
	})
	return n
}

// ForEachNode 按块、按根、后序访问所有节点
func (m *TreeMethod) ForEachNode(f func(Tree)) {
	for _, b := range m.Blocks {
		for _, r := range b.Roots {
			Walk(r, f)
		}
	}
}

// EscapeCount 逃逸变量个数
func (m *TreeMethod) EscapeCount() int {
	n := 0
	for _, v := range m.Variables() {
		if v.Escapes {
			n++
		}
	}
	return n
}

// DetermineEscapes 标记被 ldloca / ldarga 取地址的变量
func (m *TreeMethod) DetermineEscapes() {
	m.ForEachNode(func(t Tree) {
		op, ok := t.(*OpTree)
		if !ok {
			return
		}
		if op.Op == bytecode.OpLdloca || op.Op == bytecode.OpLdarga {
			op.Operand.Var.Escapes = true
		}
	})
}

func (m *TreeMethod) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "method %s\n", m.Method.Name)
	for _, b := range m.Blocks {
		fmt.Fprintf(&sb, "B%d (IL_%04x) in=%v out=%v\n", b.Index, b.Offset, b.In, b.Out)
		for _, r := range b.Roots {
			sb.WriteString("    " + r.String() + "\n")
		}
	}
	return sb.String()
}
