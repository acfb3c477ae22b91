package jit

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/jit/types"
)

// ============================================================================
// 树构建器
// ============================================================================
//
// 模拟求值栈，把不压栈的指令作为根，压栈的指令作为子树挂到消费者下面。
// 分支目标处栈上剩余的值通过临时变量在块之间传递: 第一次到达目标 (跳转或顺序执行)
// 时创建变量，之后每个到达点都把栈内容存进同一组变量。

// TreeBuilder 树构建器
type TreeBuilder struct {
	method *bytecode.Method
	tm     *TreeMethod

	stack      []Tree
	block      *Block
	blockAt    map[int]int // 起始偏移 -> 块下标
	targets    map[int]bool
	branchVars map[int][]*Variable
	addrTaken  map[*Variable]bool
	reachable  bool
}

// NewTreeBuilder 创建树构建器
func NewTreeBuilder(m *bytecode.Method) *TreeBuilder {
	return &TreeBuilder{
		method:     m,
		blockAt:    make(map[int]int),
		targets:    make(map[int]bool),
		branchVars: make(map[int][]*Variable),
		addrTaken:  make(map[*Variable]bool),
	}
}

// BuildTree 把方法体转换为树形 IR
func BuildTree(m *bytecode.Method) (*TreeMethod, error) {
	return NewTreeBuilder(m).Build()
}

// Build 执行转换
func (b *TreeBuilder) Build() (*TreeMethod, error) {
	m := b.method
	if len(m.Body) == 0 {
		return nil, &InternalError{Method: m.Name, Offset: -1, Msg: "empty method body"}
	}
	// 偏移连续、操作数种类和下标有效之后才能扫描分支目标
	if err := m.Validate(); err != nil {
		return nil, &InternalError{Method: m.Name, Offset: -1, Msg: strings.TrimPrefix(err.Error(), m.Name+": ")}
	}
	if err := b.declareVariables(); err != nil {
		return nil, err
	}
	b.scan()

	for _, inst := range m.Body {
		if err := b.enter(inst); err != nil {
			return nil, err
		}
		if err := b.convert(inst); err != nil {
			return nil, err
		}
	}
	if b.reachable {
		last := m.Body[len(m.Body)-1]
		return nil, b.internal(last, "control falls off the end of the method")
	}
	if err := b.resolve(); err != nil {
		return nil, err
	}
	return b.tm, nil
}

func (b *TreeBuilder) declareVariables() error {
	m := b.method
	ret, err := types.FromTypeDesc(m.Returns)
	if err != nil {
		return &UnsupportedError{Method: m.Name, Offset: 0, Op: bytecode.OpRet, Reason: err.Error()}
	}
	b.tm = &TreeMethod{Method: m, Returns: ret.Widened()}

	index := 0
	for i, p := range m.Params {
		t, err := types.FromTypeDesc(p)
		if err != nil || t.Category == types.CategoryNone {
			return &UnsupportedError{Method: m.Name, Offset: 0, Op: bytecode.OpLdarg, Reason: fmt.Sprintf("parameter %d: %v", i, p)}
		}
		b.tm.Params = append(b.tm.Params, &Variable{Index: index, Kind: VarParam, Number: i, Type: t, Reg: -1, FrameOffset: -1})
		index++
	}
	for i, l := range m.Locals {
		t, err := types.FromTypeDesc(l)
		if err != nil || t.Category == types.CategoryNone {
			return &UnsupportedError{Method: m.Name, Offset: 0, Op: bytecode.OpLdloc, Reason: fmt.Sprintf("local %d: %v", i, l)}
		}
		b.tm.Locals = append(b.tm.Locals, &Variable{Index: index, Kind: VarLocal, Number: i, Type: t, Reg: -1, FrameOffset: -1})
		index++
	}
	return nil
}

// scan 收集分支目标和被取地址的变量
func (b *TreeBuilder) scan() {
	for _, inst := range b.method.Body {
		switch {
		case inst.Op.IsBranch():
			b.targets[inst.Operand.Target] = true
		case inst.Op == bytecode.OpLdloca:
			b.addrTaken[b.tm.Locals[inst.Operand.Index]] = true
		case inst.Op == bytecode.OpLdarga:
			b.addrTaken[b.tm.Params[inst.Operand.Index]] = true
		}
	}
}

// enter 在每条指令之前处理块边界
func (b *TreeBuilder) enter(inst bytecode.Instruction) error {
	off := inst.Offset
	switch {
	case b.block == nil:
		if b.targets[off] {
			b.branchVars[off] = nil
		}
		b.startBlock(off)
		b.reachable = true

	case b.targets[off] && b.reachable:
		// 顺序执行进入分支目标: 栈内容存入目标变量
		if err := b.checkTarget(inst, off); err != nil {
			return err
		}
		vars := b.materialize(off)
		b.startBlock(off)
		b.stack = b.loads(vars)

	case b.targets[off]:
		vars, ok := b.branchVars[off]
		if !ok {
			// 只能被后向分支到达的目标，入口栈必须为空
			b.branchVars[off] = nil
		}
		b.startBlock(off)
		b.stack = b.loads(vars)
		b.reachable = true

	case !b.reachable:
		// 不可达代码
		b.startBlock(off)
		b.stack = nil
		b.reachable = true
	}
	return nil
}

func (b *TreeBuilder) startBlock(off int) {
	b.block = &Block{Index: len(b.tm.Blocks), Offset: off}
	b.tm.Blocks = append(b.tm.Blocks, b.block)
	b.blockAt[off] = b.block.Index
}

// materialize 把当前栈存入目标的变量，必要时创建变量。返回变量列表
func (b *TreeBuilder) materialize(target int) []*Variable {
	vars, ok := b.branchVars[target]
	if !ok {
		vars = make([]*Variable, len(b.stack))
		for i, e := range b.stack {
			if v := loadedTemp(e); v != nil && !contains(vars[:i], v) {
				vars[i] = v
			} else {
				vars[i] = b.newTemp(e.SlotType())
			}
		}
		b.branchVars[target] = vars
	}
	if len(vars) != len(b.stack) {
		return nil
	}

	// 读取目标变量的栈项先存入新的临时变量，避免被前面的存储覆盖
	for i, e := range b.stack {
		if loadedTemp(e) == vars[i] {
			continue
		}
		if readsAny(e, vars) {
			t := b.newTemp(e.SlotType())
			b.block.Roots = append(b.block.Roots, b.store(t, e))
			b.stack[i] = b.load(t)
		}
	}
	for i, e := range b.stack {
		if loadedTemp(e) == vars[i] {
			continue
		}
		b.block.Roots = append(b.block.Roots, b.store(vars[i], e))
	}
	return vars
}

// checkTarget 分支处的栈深度必须与目标一致
func (b *TreeBuilder) checkTarget(inst bytecode.Instruction, target int) error {
	vars, ok := b.branchVars[target]
	if !ok {
		return nil
	}
	if len(vars) != len(b.stack) {
		return b.internal(inst, "stack depth %d does not match depth %d at IL_%04x", len(b.stack), len(vars), target)
	}
	for i, e := range b.stack {
		if !assignable(vars[i].Type, e.SlotType()) {
			return b.internal(inst, "stack type %s does not match %s at IL_%04x", e.SlotType(), vars[i].Type, target)
		}
	}
	return nil
}

func (b *TreeBuilder) convert(inst bytecode.Instruction) error {
	op := inst.Op
	switch op {
	case bytecode.OpNop:
		b.addRoot(b.node(inst, types.None, Operand{}))

	case bytecode.OpLdarg, bytecode.OpLdloc:
		v := b.variable(inst)
		b.push(b.node(inst, v.Type.Widened(), varOperand(v)))

	case bytecode.OpLdarga, bytecode.OpLdloca:
		v := b.variable(inst)
		if v.Type.IsPointer() {
			return b.unsupported(inst, v.Type, "address of a pointer variable")
		}
		b.push(b.node(inst, v.Type.PointerTo(), varOperand(v)))

	case bytecode.OpStarg, bytecode.OpStloc:
		v := b.variable(inst)
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		if !assignable(v.Type, val.SlotType()) {
			return b.internal(inst, "cannot store %s into %s of type %s", val.SlotType(), v, v.Type)
		}
		b.addRoot(b.node(inst, types.None, varOperand(v), val))

	case bytecode.OpLdcI4:
		b.push(b.node(inst, types.I4, Operand{Kind: OperandInt, Int: int64(int32(inst.Operand.Int))}))
	case bytecode.OpLdcI8:
		b.push(b.node(inst, types.I8, Operand{Kind: OperandInt, Int: inst.Operand.Int}))
	case bytecode.OpLdcR4:
		b.push(b.node(inst, types.R4, Operand{Kind: OperandFloat, Float: inst.Operand.Float}))
	case bytecode.OpLdcR8:
		b.push(b.node(inst, types.R8, Operand{Kind: OperandFloat, Float: inst.Operand.Float}))
	case bytecode.OpLdnull:
		b.push(b.node(inst, types.Object, Operand{}))

	case bytecode.OpDup:
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		t := b.newTemp(val.SlotType())
		b.addRoot(b.node(inst, types.None, varOperand(t), val))
		b.push(b.load(t))
		b.push(b.load(t))

	case bytecode.OpPop:
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		b.addRoot(b.node(inst, types.None, Operand{}, val))

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpDivUn,
		bytecode.OpRem, bytecode.OpRemUn, bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor,
		bytecode.OpShl, bytecode.OpShr, bytecode.OpShrUn,
		bytecode.OpCeq, bytecode.OpCgt, bytecode.OpCgtUn, bytecode.OpClt, bytecode.OpCltUn:
		l, r, err := b.pop2(inst)
		if err != nil {
			return err
		}
		t, err := types.BinaryResult(op, l.SlotType(), r.SlotType())
		if err != nil {
			return b.internal(inst, "%v", err)
		}
		b.push(b.node(inst, t, Operand{}, l, r))

	case bytecode.OpNeg, bytecode.OpNot:
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		t, err := types.UnaryResult(op, val.SlotType())
		if err != nil {
			return b.internal(inst, "%v", err)
		}
		b.push(b.node(inst, t, Operand{}, val))

	case bytecode.OpConvI4, bytecode.OpConvU4, bytecode.OpConvI, bytecode.OpConvI8,
		bytecode.OpConvR4, bytecode.OpConvR8:
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		t, err := types.ConversionResult(op, val.SlotType())
		if err != nil {
			return b.internal(inst, "%v", err)
		}
		b.push(b.node(inst, t, Operand{}, val))

	case bytecode.OpBr:
		return b.branch(inst)

	case bytecode.OpBrfalse, bytecode.OpBrtrue:
		c, err := b.pop(inst)
		if err != nil {
			return err
		}
		ct := c.SlotType()
		if !(ct.IsInteger() || ct.IsPointer() || ct.IsArray || ct.Category == types.CategoryObject) {
			return b.internal(inst, "invalid condition type %s", ct)
		}
		return b.branch(inst, c)

	case bytecode.OpBeq, bytecode.OpBneUn, bytecode.OpBge, bytecode.OpBgeUn, bytecode.OpBgt,
		bytecode.OpBgtUn, bytecode.OpBle, bytecode.OpBleUn, bytecode.OpBlt, bytecode.OpBltUn:
		l, r, err := b.pop2(inst)
		if err != nil {
			return err
		}
		if !types.Comparable(l.SlotType(), r.SlotType()) {
			return b.internal(inst, "cannot compare %s and %s", l.SlotType(), r.SlotType())
		}
		return b.branch(inst, l, r)

	case bytecode.OpCall:
		return b.call(inst)

	case bytecode.OpRet:
		var args []Tree
		if b.tm.Returns.Category != types.CategoryNone {
			val, err := b.pop(inst)
			if err != nil {
				return err
			}
			if !assignable(b.tm.Returns, val.SlotType()) {
				return b.internal(inst, "cannot return %s from method returning %s", val.SlotType(), b.tm.Returns)
			}
			args = []Tree{val}
		}
		if len(b.stack) != 0 {
			return b.internal(inst, "%d values left on the stack at return", len(b.stack))
		}
		b.addRoot(b.node(inst, types.None, Operand{}, args...))
		b.reachable = false

	case bytecode.OpLdindI4, bytecode.OpLdindU4, bytecode.OpLdindI, bytecode.OpLdindR4,
		bytecode.OpLdindI8, bytecode.OpLdindR8:
		addr, err := b.pop(inst)
		if err != nil {
			return err
		}
		if !isAddress(addr.SlotType()) {
			return b.internal(inst, "invalid address type %s", addr.SlotType())
		}
		b.push(b.node(inst, indirectType[op], Operand{}, addr))

	case bytecode.OpStindI4, bytecode.OpStindI, bytecode.OpStindR4, bytecode.OpStindI8, bytecode.OpStindR8:
		addr, val, err := b.pop2(inst)
		if err != nil {
			return err
		}
		if !isAddress(addr.SlotType()) {
			return b.internal(inst, "invalid address type %s", addr.SlotType())
		}
		b.addRoot(b.node(inst, types.None, Operand{}, addr, val))

	case bytecode.OpLdlen:
		arr, err := b.pop(inst)
		if err != nil {
			return err
		}
		if !isArray(arr.SlotType()) {
			return b.internal(inst, "ldlen on %s", arr.SlotType())
		}
		b.push(b.node(inst, types.NativeInt, Operand{}, arr))

	case bytecode.OpLdelemI4, bytecode.OpLdelemR4:
		arr, idx, err := b.pop2(inst)
		if err != nil {
			return err
		}
		if !isArray(arr.SlotType()) || !idx.SlotType().IsInteger() {
			return b.internal(inst, "invalid element access %s[%s]", arr.SlotType(), idx.SlotType())
		}
		b.push(b.node(inst, indirectType[op], Operand{}, arr, idx))

	case bytecode.OpStelemI4, bytecode.OpStelemR4:
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		arr, idx, err := b.pop2(inst)
		if err != nil {
			return err
		}
		if !isArray(arr.SlotType()) || !idx.SlotType().IsInteger() {
			return b.internal(inst, "invalid element access %s[%s]", arr.SlotType(), idx.SlotType())
		}
		b.addRoot(b.node(inst, types.None, Operand{}, arr, idx, val))

	case bytecode.OpLdsfld:
		t, err := types.FromTypeDesc(inst.Operand.Field.Type)
		if err != nil {
			return b.unsupported(inst, types.None, err.Error())
		}
		b.push(b.node(inst, t.Widened(), Operand{Kind: OperandField, Field: inst.Operand.Field}))

	case bytecode.OpStsfld:
		val, err := b.pop(inst)
		if err != nil {
			return err
		}
		b.addRoot(b.node(inst, types.None, Operand{Kind: OperandField, Field: inst.Operand.Field}, val))

	default:
		return b.unsupported(inst, types.None, "opcode not handled by the tree builder")
	}
	return nil
}

var indirectType = map[bytecode.OpCode]types.StackSlotType{
	bytecode.OpLdindI4:  types.I4,
	bytecode.OpLdindU4:  types.U4,
	bytecode.OpLdindI:   types.NativeInt,
	bytecode.OpLdindR4:  types.R4,
	bytecode.OpLdindI8:  types.I8,
	bytecode.OpLdindR8:  types.R8,
	bytecode.OpLdelemI4: types.I4,
	bytecode.OpLdelemR4: types.R4,
}

// branch 生成分支根。args 为已弹出的条件操作数
func (b *TreeBuilder) branch(inst bytecode.Instruction, args ...Tree) error {
	target := inst.Operand.Target
	if err := b.checkTarget(inst, target); err != nil {
		return err
	}
	// 条件操作数若读取目标变量，先固定其值
	if vars, ok := b.branchVars[target]; ok {
		for i, a := range args {
			if readsAny(a, vars) {
				t := b.newTemp(a.SlotType())
				b.addRoot(b.store(t, a))
				args[i] = b.load(t)
			}
		}
	}
	vars := b.materialize(target)
	b.stack = b.loads(vars)
	b.addRoot(b.node(inst, types.None, Operand{Kind: OperandTarget, Target: target}, args...))
	if inst.Op == bytecode.OpBr {
		b.stack = nil
		b.reachable = false
	}
	return nil
}

func (b *TreeBuilder) call(inst bytecode.Instruction) error {
	ref := inst.Operand.Method
	n := len(ref.Params)
	if len(b.stack) < n {
		return b.internal(inst, "call %s needs %d arguments, stack has %d", ref.Name, n, len(b.stack))
	}
	args := make([]Tree, n)
	copy(args, b.stack[len(b.stack)-n:])
	b.stack = b.stack[:len(b.stack)-n]
	for i, a := range args {
		pt, err := types.FromTypeDesc(ref.Params[i])
		if err != nil {
			return b.unsupported(inst, types.None, err.Error())
		}
		if !assignable(pt, a.SlotType()) {
			return b.internal(inst, "argument %d of %s: cannot pass %s as %s", i, ref.Name, a.SlotType(), pt)
		}
	}
	rt, err := types.FromTypeDesc(ref.Returns)
	if err != nil {
		return b.unsupported(inst, types.None, err.Error())
	}
	ct := &CallTree{Method: ref, Offset: inst.Offset, Type: rt.Widened(), Args: args}
	if ref.HasResult() {
		b.push(ct)
	} else {
		b.addRoot(ct)
	}
	return nil
}

// resolve 把分支操作数从字节码偏移改写为块下标，并计算块间的边
func (b *TreeBuilder) resolve() error {
	blocks := b.tm.Blocks
	for _, blk := range blocks {
		for _, r := range blk.Roots {
			op, ok := r.(*OpTree)
			if !ok || op.Operand.Kind != OperandTarget {
				continue
			}
			idx, ok := b.blockAt[op.Operand.Target]
			if !ok {
				return &InternalError{Method: b.method.Name, Offset: op.Offset, Op: op.Op,
					Msg: fmt.Sprintf("branch target IL_%04x does not start a block", op.Operand.Target)}
			}
			op.Operand = Operand{Kind: OperandBlock, Target: idx}
			blk.Out = appendUnique(blk.Out, idx)
		}
		if n := len(blk.Roots); n > 0 {
			last := blk.Roots[n-1].Opcode()
			if last != bytecode.OpBr && last != bytecode.OpRet && blk.Index+1 < len(blocks) {
				blk.Out = appendUnique(blk.Out, blk.Index+1)
			}
		}
	}
	for _, blk := range blocks {
		for _, s := range blk.Out {
			blocks[s].In = appendUnique(blocks[s].In, blk.Index)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// 栈与节点
// ----------------------------------------------------------------------------

func (b *TreeBuilder) push(t Tree) {
	b.stack = append(b.stack, t)
}

func (b *TreeBuilder) pop(inst bytecode.Instruction) (Tree, error) {
	if len(b.stack) == 0 {
		return nil, b.internal(inst, "evaluation stack underflow")
	}
	t := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return t, nil
}

// pop2 弹出两个值，按压栈顺序返回
func (b *TreeBuilder) pop2(inst bytecode.Instruction) (Tree, Tree, error) {
	r, err := b.pop(inst)
	if err != nil {
		return nil, nil, err
	}
	l, err := b.pop(inst)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// addRoot 追加根。栈上可能被该根影响的值先存入临时变量
func (b *TreeBuilder) addRoot(root Tree) {
	rootEffects := b.hasEffects(root)
	written := storedVar(root)

	spillTo := -1
	for i, e := range b.stack {
		if stable(e) {
			continue
		}
		if (rootEffects && b.hasEffects(e)) || (written != nil && readsAny(e, []*Variable{written})) {
			spillTo = i
		}
	}
	// 保持求值顺序: 被溢出项之下的非稳定项一并溢出
	for i := 0; i <= spillTo; i++ {
		e := b.stack[i]
		if stable(e) {
			continue
		}
		t := b.newTemp(e.SlotType())
		b.block.Roots = append(b.block.Roots, b.store(t, e))
		b.stack[i] = b.load(t)
	}
	b.block.Roots = append(b.block.Roots, root)
}

func (b *TreeBuilder) node(inst bytecode.Instruction, t types.StackSlotType, operand Operand, args ...Tree) *OpTree {
	return &OpTree{Op: inst.Op, Offset: inst.Offset, Type: t, Operand: operand, Args: args}
}

func (b *TreeBuilder) store(v *Variable, value Tree) *OpTree {
	return &OpTree{Op: bytecode.OpStloc, Offset: -1, Synth: true, Type: types.None, Operand: varOperand(v), Args: []Tree{value}}
}

func (b *TreeBuilder) load(v *Variable) *OpTree {
	return &OpTree{Op: bytecode.OpLdloc, Offset: -1, Synth: true, Type: v.Type.Widened(), Operand: varOperand(v)}
}

func (b *TreeBuilder) loads(vars []*Variable) []Tree {
	if len(vars) == 0 {
		return nil
	}
	out := make([]Tree, len(vars))
	for i, v := range vars {
		out[i] = b.load(v)
	}
	return out
}

func (b *TreeBuilder) newTemp(t types.StackSlotType) *Variable {
	v := &Variable{
		Index:       len(b.tm.Params) + len(b.tm.Locals) + len(b.tm.Temps),
		Kind:        VarTemp,
		Number:      len(b.tm.Temps),
		Type:        t.Widened(),
		Reg:         -1,
		FrameOffset: -1,
	}
	b.tm.Temps = append(b.tm.Temps, v)
	return v
}

func (b *TreeBuilder) variable(inst bytecode.Instruction) *Variable {
	if inst.Operand.Kind == bytecode.OperandParam {
		return b.tm.Params[inst.Operand.Index]
	}
	return b.tm.Locals[inst.Operand.Index]
}

// hasEffects 是否访问内存、调用方法或读写被取地址的变量
func (b *TreeBuilder) hasEffects(t Tree) bool {
	found := false
	Walk(t, func(n Tree) {
		if found {
			return
		}
		switch n.Opcode() {
		case bytecode.OpCall,
			bytecode.OpLdindI4, bytecode.OpLdindU4, bytecode.OpLdindI, bytecode.OpLdindR4,
			bytecode.OpLdindI8, bytecode.OpLdindR8,
			bytecode.OpStindI4, bytecode.OpStindI, bytecode.OpStindR4, bytecode.OpStindI8, bytecode.OpStindR8,
			bytecode.OpLdelemI4, bytecode.OpLdelemR4, bytecode.OpStelemI4, bytecode.OpStelemR4,
			bytecode.OpLdlen, bytecode.OpLdsfld, bytecode.OpStsfld:
			found = true
		case bytecode.OpLdarg, bytecode.OpLdloc, bytecode.OpStarg, bytecode.OpStloc:
			if v := n.(*OpTree).Operand.Var; v != nil && b.addrTaken[v] {
				found = true
			}
		}
	})
	return found
}

func (b *TreeBuilder) internal(inst bytecode.Instruction, format string, args ...interface{}) *InternalError {
	return &InternalError{Method: b.method.Name, Offset: inst.Offset, Op: inst.Op, Msg: fmt.Sprintf(format, args...)}
}

func (b *TreeBuilder) unsupported(inst bytecode.Instruction, t types.StackSlotType, reason string) *UnsupportedError {
	return &UnsupportedError{Method: b.method.Name, Offset: inst.Offset, Op: inst.Op, Type: t, Reason: reason}
}

// ----------------------------------------------------------------------------
// 辅助函数
// ----------------------------------------------------------------------------

func varOperand(v *Variable) Operand {
	return Operand{Kind: OperandVar, Var: v}
}

// stable 值在块内不会被其它根改变: 常量、地址、栈临时变量的读取
func stable(t Tree) bool {
	op, ok := t.(*OpTree)
	if !ok {
		return false
	}
	switch op.Op {
	case bytecode.OpLdcI4, bytecode.OpLdcI8, bytecode.OpLdcR4, bytecode.OpLdcR8, bytecode.OpLdnull,
		bytecode.OpLdarga, bytecode.OpLdloca:
		return true
	case bytecode.OpLdloc:
		return op.Synth && op.Operand.Var.Kind == VarTemp
	}
	return false
}

// loadedTemp 若 t 是栈临时变量的合成读取，返回该变量
func loadedTemp(t Tree) *Variable {
	if op, ok := t.(*OpTree); ok && op.Synth && op.Op == bytecode.OpLdloc && op.Operand.Var.Kind == VarTemp {
		return op.Operand.Var
	}
	return nil
}

// storedVar 根写入的变量
func storedVar(t Tree) *Variable {
	op, ok := t.(*OpTree)
	if !ok {
		return nil
	}
	switch op.Op {
	case bytecode.OpStloc, bytecode.OpStarg, bytecode.OpDup:
		return op.Operand.Var
	}
	return nil
}

func readsAny(t Tree, vars []*Variable) bool {
	found := false
	Walk(t, func(n Tree) {
		if op, ok := n.(*OpTree); ok && op.Operand.Kind == OperandVar && contains(vars, op.Operand.Var) {
			switch op.Op {
			case bytecode.OpLdarg, bytecode.OpLdloc:
				found = true
			}
		}
	})
	return found
}

func contains(vars []*Variable, v *Variable) bool {
	for _, x := range vars {
		if x == v {
			return true
		}
	}
	return false
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// assignable 能否把 src 存入声明类型为 dst 的位置
func assignable(dst, src types.StackSlotType) bool {
	dst, src = dst.Widened(), src.Widened()
	if dst == src {
		return true
	}
	switch {
	case dst.IsInteger() && src.IsInteger():
		return true
	case dst.IsFloat() && src.IsFloat():
		return true
	case dst.IsPointer():
		return src.IsPointer() || (src.IsSimple() && src.Category == types.CategoryNativeInt)
	case dst.IsArray || dst.Category == types.CategoryObject:
		return src.IsArray || src.Category == types.CategoryObject
	case dst.IsSimple() && dst.Category == types.CategoryNativeInt:
		return src.IsPointer()
	case dst.Category == types.CategoryInt64 && src.Category == types.CategoryInt64:
		return true
	}
	return false
}

func isAddress(t types.StackSlotType) bool {
	return t.IsPointer() || (t.IsSimple() && t.Category == types.CategoryNativeInt)
}

func isArray(t types.StackSlotType) bool {
	return t.IsArray && t.Indirection == 0
}
