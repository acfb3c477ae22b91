package jit

import (
	"fmt"
	"math"

	"go.uber.org/multierr"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 指令选择
// ============================================================================
//
// 每棵树后序展开，子树的结果放在新的虚拟寄存器中返回给父节点。
// 标量值总是位于四字的首选槽 (字节 0..3)。

// 数组对象头: 长度在第 0 个字，元素从 16 字节处开始
const arrayHeaderSize = 16

// regCounter 虚拟寄存器编号分配
type regCounter struct {
	next spu.Reg
}

func newRegCounter() *regCounter {
	return &regCounter{next: spu.FirstVirtual}
}

// New 分配一个新的虚拟寄存器
func (c *regCounter) New() spu.Reg {
	r := c.next
	c.next++
	return r
}

// Limit 已分配寄存器编号的上界 (不含)
func (c *regCounter) Limit() spu.Reg {
	return c.next
}

// Count 已分配的虚拟寄存器个数
func (c *regCounter) Count() int {
	return int(c.next - spu.FirstVirtual)
}

// selection 指令选择结果
type selection struct {
	blocks []*spu.BasicBlock
	leaf   bool
}

type selector struct {
	tm    *TreeMethod
	conv  *CallingConv
	frame *FrameLayout
	regs  *regCounter
	syms  SymbolResolver

	blocks []*spu.BasicBlock
	heads  []*spu.BasicBlock // IR 块下标 -> 对应的第一个目标块
	cur    *spu.BasicBlock
	root   Tree
	leaf   bool
}

// selectInstructions 把树 IR 转换为以虚拟寄存器表示的目标指令
func selectInstructions(tm *TreeMethod, conv *CallingConv, frame *FrameLayout, regs *regCounter, syms SymbolResolver) (*selection, error) {
	s := &selector{tm: tm, conv: conv, frame: frame, regs: regs, syms: syms, leaf: true}
	if err := s.assignVariables(); err != nil {
		return nil, err
	}

	s.heads = make([]*spu.BasicBlock, len(tm.Blocks))
	for i := range tm.Blocks {
		s.heads[i] = spu.NewBlock(fmt.Sprintf("B%d", i))
	}

	// 参数复制只执行一次: B0 是循环头时单独放在入口块
	var errs error
	s.cur = s.heads[0]
	if len(tm.Blocks[0].In) > 0 {
		s.cur = spu.NewBlock("args")
		s.blocks = append(s.blocks, s.cur)
	}
	errs = multierr.Append(errs, s.lowerParams())

	// 条件转移不结束目标块，块内转移由调度器作为屏障处理
	for i, blk := range tm.Blocks {
		s.cur = s.heads[i]
		s.blocks = append(s.blocks, s.cur)
		for _, root := range blk.Roots {
			errs = multierr.Append(errs, s.lowerRoot(root))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return &selection{blocks: s.blocks, leaf: s.leaf}, nil
}

// assignVariables 逃逸变量分配帧槽，其余变量分配虚拟寄存器
func (s *selector) assignVariables() error {
	for _, v := range s.tm.Variables() {
		if v.Escapes {
			v.FrameOffset = s.frame.AllocEscapeSlot()
		} else {
			v.Reg = s.regs.New()
		}
	}
	if n := len(s.tm.Params); n > len(s.conv.ArgRegs) {
		return &UnsupportedError{Method: s.tm.Method.Name, Offset: 0, Op: bytecode.OpLdarg,
			Reason: fmt.Sprintf("%d parameters exceed %d argument registers", n, len(s.conv.ArgRegs))}
	}
	return nil
}

// lowerParams 入口块: 把参数寄存器复制到参数变量
func (s *selector) lowerParams() error {
	var errs error
	for i, p := range s.tm.Params {
		if p.Type.IsWide() {
			errs = multierr.Append(errs, &UnsupportedError{Method: s.tm.Method.Name, Offset: 0, Op: bytecode.OpLdarg,
				Type: p.Type, Reason: fmt.Sprintf("parameter %d is a 64-bit value", i)})
			continue
		}
		src, _ := s.conv.ArgReg(i)
		if p.Escapes {
			s.emit(spu.NewRI(spu.OpStqd, src, s.conv.StackReg, p.FrameOffset))
		} else {
			s.emit(spu.NewMove(p.Reg, src))
		}
	}
	return errs
}

// lowerRoot 展开一个根。不支持的模式以 *UnsupportedError 返回，不影响其它根
func (s *selector) lowerRoot(root Tree) (err error) {
	s.root = root
	defer func() {
		if r := recover(); r != nil {
			u, ok := r.(*UnsupportedError)
			if !ok {
				panic(r)
			}
			err = u
		}
	}()
	s.stmt(root)
	return nil
}

func (s *selector) emit(inst *spu.Instruction) *spu.Instruction {
	return s.cur.Append(inst)
}

// fail 报告不支持的节点
func (s *selector) fail(t Tree, format string, args ...interface{}) {
	off := t.ILOffset()
	if off < 0 {
		off = s.root.ILOffset()
	}
	panic(&UnsupportedError{
		Method: s.tm.Method.Name,
		Offset: off,
		Op:     t.Opcode(),
		Type:   t.SlotType(),
		Reason: fmt.Sprintf(format, args...),
	})
}

// ----------------------------------------------------------------------------
// 语句
// ----------------------------------------------------------------------------

func (s *selector) stmt(t Tree) {
	if call, ok := t.(*CallTree); ok {
		s.call(call)
		return
	}
	op := t.(*OpTree)
	switch op.Op {
	case bytecode.OpNop:

	case bytecode.OpStloc, bytecode.OpStarg, bytecode.OpDup:
		v := op.Operand.Var
		val := s.expr(op.Args[0])
		s.storeVar(v, val)

	case bytecode.OpPop:
		s.expr(op.Args[0])

	case bytecode.OpRet:
		ret := spu.NewInst(spu.OpRet)
		if len(op.Args) == 1 {
			val := s.expr(op.Args[0])
			s.emit(spu.NewMove(s.conv.RetReg, val))
			ret.ImplicitUses = []spu.Reg{s.conv.RetReg}
		}
		s.emit(ret)

	case bytecode.OpBr:
		s.emit(spu.NewBranch(spu.OpBr, spu.NoReg, s.heads[op.Operand.Target]))

	case bytecode.OpBrtrue, bytecode.OpBrfalse:
		target := s.heads[op.Operand.Target]
		mask, invert := s.condition(op.Args[0])
		if op.Op == bytecode.OpBrfalse {
			invert = !invert
		}
		s.emit(spu.NewBranch(branchOp(invert), mask, target))

	case bytecode.OpBeq, bytecode.OpBneUn, bytecode.OpBge, bytecode.OpBgeUn, bytecode.OpBgt,
		bytecode.OpBgtUn, bytecode.OpBle, bytecode.OpBleUn, bytecode.OpBlt, bytecode.OpBltUn:
		target := s.heads[op.Operand.Target]
		mask, invert := s.compare(op, op.Op, op.Args[0], op.Args[1])
		s.emit(spu.NewBranch(branchOp(invert), mask, target))

	case bytecode.OpStindI4, bytecode.OpStindI, bytecode.OpStindR4, bytecode.OpStindI8, bytecode.OpStindR8:
		if op.Op == bytecode.OpStindI8 || op.Op == bytecode.OpStindR8 {
			s.fail(op, "64-bit indirect store")
		}
		addr := s.expr(op.Args[0])
		val := s.expr(op.Args[1])
		s.storeWord(addr, 0, val)

	case bytecode.OpStelemI4, bytecode.OpStelemR4:
		addr, disp := s.element(op.Args[0], op.Args[1])
		val := s.expr(op.Args[2])
		s.storeWord(addr, disp, val)

	case bytecode.OpStsfld:
		val := s.expr(op.Args[0])
		s.checkScalar(op.Args[0])
		s.emit(spu.NewObjectRef(spu.OpStqr, val, s.syms.Data(op.Operand.Field)))

	default:
		s.expr(op)
	}
}

func (s *selector) storeVar(v *Variable, val spu.Reg) {
	if v.Escapes {
		s.emit(spu.NewRI(spu.OpStqd, val, s.conv.StackReg, v.FrameOffset))
		return
	}
	s.emit(spu.NewMove(v.Reg, val))
}

// storeWord 把 val 的首选字写入 addr+disp，保留同一四字中的其它字节
func (s *selector) storeWord(addr spu.Reg, disp int, val spu.Reg) {
	if disp != 0 {
		p := s.regs.New()
		s.emit(spu.NewRI(spu.OpAi, p, addr, disp))
		addr = p
	}
	q := s.regs.New()
	mask := s.regs.New()
	merged := s.regs.New()
	s.emit(spu.NewRI(spu.OpLqd, q, addr, 0))
	s.emit(spu.NewRI(spu.OpCwd, mask, addr, 0))
	s.emit(spu.NewRRR(spu.OpShufb, merged, val, q, mask))
	s.emit(spu.NewRI(spu.OpStqd, merged, addr, 0))
}

// loadWord 读取 addr+disp 处的字并旋转到首选槽
func (s *selector) loadWord(addr spu.Reg, disp int) spu.Reg {
	if disp != 0 {
		p := s.regs.New()
		s.emit(spu.NewRI(spu.OpAi, p, addr, disp))
		addr = p
	}
	q := s.regs.New()
	t := s.regs.New()
	s.emit(spu.NewRI(spu.OpLqd, q, addr, 0))
	s.emit(spu.NewRR(spu.OpRotqby, t, q, addr))
	return t
}

// element 数组元素地址，返回基址和附加位移
func (s *selector) element(arr, idx Tree) (spu.Reg, int) {
	base := s.expr(arr)
	if c, ok := intConst(idx); ok {
		disp := arrayHeaderSize + int(c)*4
		if fitsI10(int64(disp)) {
			return base, disp
		}
	}
	i := s.expr(idx)
	off := s.regs.New()
	addr := s.regs.New()
	s.emit(spu.NewRI(spu.OpShli, off, i, 2))
	s.emit(spu.NewRR(spu.OpA, addr, base, off))
	return addr, arrayHeaderSize
}

// ----------------------------------------------------------------------------
// 表达式
// ----------------------------------------------------------------------------

func (s *selector) expr(t Tree) spu.Reg {
	if call, ok := t.(*CallTree); ok {
		r := s.call(call)
		if r == spu.NoReg {
			s.fail(call, "call to %s has no result", call.Method.Name)
		}
		return r
	}
	op := t.(*OpTree)
	if op.Type.IsWide() {
		s.fail(op, "64-bit values are not supported")
	}

	switch op.Op {
	case bytecode.OpLdcI4:
		return s.constant(int32(op.Operand.Int))
	case bytecode.OpLdcR4:
		return s.constant(int32(math.Float32bits(float32(op.Operand.Float))))
	case bytecode.OpLdnull:
		return s.constant(0)

	case bytecode.OpLdarg, bytecode.OpLdloc:
		v := op.Operand.Var
		if !v.Escapes {
			return v.Reg
		}
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpLqd, t, s.conv.StackReg, v.FrameOffset))
		return t

	case bytecode.OpLdarga, bytecode.OpLdloca:
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpAi, t, s.conv.StackReg, op.Operand.Var.FrameOffset))
		return t

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpDivUn,
		bytecode.OpRem, bytecode.OpRemUn, bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor,
		bytecode.OpShl, bytecode.OpShr, bytecode.OpShrUn:
		return s.binary(op)

	case bytecode.OpCeq, bytecode.OpCgt, bytecode.OpCgtUn, bytecode.OpClt, bytecode.OpCltUn:
		mask, _ := s.compare(op, op.Op, op.Args[0], op.Args[1])
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpAndi, t, mask, 1))
		return t

	case bytecode.OpNeg:
		a := s.expr(op.Args[0])
		t := s.regs.New()
		if op.Type.IsFloat() {
			m := s.regs.New()
			s.emit(spu.NewImm(spu.OpIlhu, m, 0x8000))
			s.emit(spu.NewRR(spu.OpXor, t, a, m))
		} else {
			s.emit(spu.NewRI(spu.OpSfi, t, a, 0))
		}
		return t

	case bytecode.OpNot:
		a := s.expr(op.Args[0])
		t := s.regs.New()
		s.emit(spu.NewRR(spu.OpNor, t, a, a))
		return t

	case bytecode.OpConvI4, bytecode.OpConvU4, bytecode.OpConvI, bytecode.OpConvR4:
		return s.convert(op)
	case bytecode.OpConvI8, bytecode.OpConvR8:
		s.fail(op, "conversion to a 64-bit value")

	case bytecode.OpLdindI4, bytecode.OpLdindU4, bytecode.OpLdindI, bytecode.OpLdindR4:
		addr := s.expr(op.Args[0])
		return s.loadWord(addr, 0)

	case bytecode.OpLdlen:
		arr := s.expr(op.Args[0])
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpLqd, t, arr, 0))
		return t

	case bytecode.OpLdelemI4, bytecode.OpLdelemR4:
		addr, disp := s.element(op.Args[0], op.Args[1])
		return s.loadWord(addr, disp)

	case bytecode.OpLdsfld:
		t := s.regs.New()
		s.emit(spu.NewObjectRef(spu.OpLqr, t, s.syms.Data(op.Operand.Field)))
		return t

	default:
		s.fail(op, "no instruction pattern")
	}
	return spu.NoReg
}

// constant 装入 32 位常量
func (s *selector) constant(v int32) spu.Reg {
	t := s.regs.New()
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		s.emit(spu.NewImm(spu.OpIl, t, int(v)))
		return t
	}
	u := uint32(v)
	s.emit(spu.NewImm(spu.OpIlhu, t, int(u>>16)))
	if lo := u & 0xffff; lo != 0 {
		s.emit(spu.NewImm(spu.OpIohl, t, int(lo)))
	}
	return t
}

func (s *selector) binary(op *OpTree) spu.Reg {
	l, r := op.Args[0], op.Args[1]
	if op.Type.IsFloat() {
		var code spu.OpCode
		switch op.Op {
		case bytecode.OpAdd:
			code = spu.OpFa
		case bytecode.OpSub:
			code = spu.OpFs
		case bytecode.OpMul:
			code = spu.OpFm
		default:
			s.fail(op, "floating point %s", op.Op)
		}
		a, b := s.expr(l), s.expr(r)
		t := s.regs.New()
		s.emit(spu.NewRR(code, t, a, b))
		return t
	}

	c, isConst := intConst(r)
	switch op.Op {
	case bytecode.OpDiv, bytecode.OpDivUn, bytecode.OpRem, bytecode.OpRemUn:
		s.fail(op, "integer division")

	case bytecode.OpAdd:
		if isConst && fitsI10(c) {
			return s.immediate(spu.OpAi, l, int(c))
		}
		// x + y*z: 部分积直接累加到 x 上
		if m, ok := intProduct(r); ok {
			return s.multiplyAdd(s.expr(l), m.Args[0], m.Args[1])
		}
		if m, ok := intProduct(l); ok && len(r.Children()) == 0 {
			if _, leaf := r.(*OpTree); leaf {
				return s.multiplyAdd(s.expr(r), m.Args[0], m.Args[1])
			}
		}
		return s.rr(spu.OpA, l, r)

	case bytecode.OpSub:
		if isConst && fitsI10(-c) {
			return s.immediate(spu.OpAi, l, int(-c))
		}
		// sf rt,ra,rb 计算 rb - ra
		a, b := s.expr(l), s.expr(r)
		t := s.regs.New()
		s.emit(spu.NewRR(spu.OpSf, t, b, a))
		return t

	case bytecode.OpMul:
		return s.multiply(l, r)

	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor:
		codes := logicOps[op.Op]
		if isConst && fitsI10(c) {
			return s.immediate(codes[1], l, int(c))
		}
		return s.rr(codes[0], l, r)

	case bytecode.OpShl:
		if isConst {
			return s.immediate(spu.OpShli, l, int(c&31))
		}
		return s.rr(spu.OpShl, l, r)

	case bytecode.OpShr, bytecode.OpShrUn:
		// 右移以负的移位量表示
		immOp, regOp := spu.OpRotmai, spu.OpRotma
		if op.Op == bytecode.OpShrUn {
			immOp, regOp = spu.OpRotmi, spu.OpRotm
		}
		if isConst {
			return s.immediate(immOp, l, -int(c&31))
		}
		a, n := s.expr(l), s.expr(r)
		neg := s.regs.New()
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpSfi, neg, n, 0))
		s.emit(spu.NewRR(regOp, t, a, neg))
		return t
	}
	s.fail(op, "no instruction pattern")
	return spu.NoReg
}

// logicOps 寄存器形式与立即数形式
var logicOps = map[bytecode.OpCode][2]spu.OpCode{
	bytecode.OpAnd: {spu.OpAnd, spu.OpAndi},
	bytecode.OpOr:  {spu.OpOr, spu.OpOri},
	bytecode.OpXor: {spu.OpXor, spu.OpXori},
}

// multiply 32 位乘法由三个 16 位部分积组成。
// 每个部分积生成后立即累加，同时存活的临时值不超过一个
func (s *selector) multiply(l, r Tree) spu.Reg {
	a, b := s.expr(l), s.expr(r)
	t1, t2, t3, t4, t := s.regs.New(), s.regs.New(), s.regs.New(), s.regs.New(), s.regs.New()
	s.emit(spu.NewRR(spu.OpMpyh, t1, a, b))
	s.emit(spu.NewRR(spu.OpMpyh, t2, b, a))
	s.emit(spu.NewRR(spu.OpA, t4, t1, t2))
	s.emit(spu.NewRR(spu.OpMpyu, t3, a, b))
	s.emit(spu.NewRR(spu.OpA, t, t4, t3))
	return t
}

// multiplyAdd acc + l*r
func (s *selector) multiplyAdd(acc spu.Reg, l, r Tree) spu.Reg {
	a, b := s.expr(l), s.expr(r)
	for _, part := range []struct {
		code   spu.OpCode
		ra, rb spu.Reg
	}{
		{spu.OpMpyh, a, b},
		{spu.OpMpyh, b, a},
		{spu.OpMpyu, a, b},
	} {
		p, sum := s.regs.New(), s.regs.New()
		s.emit(spu.NewRR(part.code, p, part.ra, part.rb))
		s.emit(spu.NewRR(spu.OpA, sum, acc, p))
		acc = sum
	}
	return acc
}

func (s *selector) rr(code spu.OpCode, l, r Tree) spu.Reg {
	a, b := s.expr(l), s.expr(r)
	t := s.regs.New()
	s.emit(spu.NewRR(code, t, a, b))
	return t
}

func (s *selector) immediate(code spu.OpCode, l Tree, imm int) spu.Reg {
	a := s.expr(l)
	t := s.regs.New()
	s.emit(spu.NewRI(code, t, a, imm))
	return t
}

func (s *selector) convert(op *OpTree) spu.Reg {
	src := op.Args[0].SlotType()
	if src.IsWide() {
		s.fail(op, "conversion from a 64-bit value")
	}
	a := s.expr(op.Args[0])
	switch {
	case op.Op == bytecode.OpConvR4 && !src.IsFloat():
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpCsflt, t, a, 155))
		return t
	case op.Op != bytecode.OpConvR4 && src.IsFloat():
		t := s.regs.New()
		s.emit(spu.NewRI(spu.OpCflts, t, a, 173))
		return t
	}
	return a
}

// ----------------------------------------------------------------------------
// 比较与转移
// ----------------------------------------------------------------------------

// cmpRule 比较的实现方式: ceq 或 cgt/clgt，可交换操作数，可对结果取反
type cmpRule struct {
	eq       bool
	unsigned bool
	swap     bool
	invert   bool
}

var cmpRules = map[bytecode.OpCode]cmpRule{
	bytecode.OpCeq:   {eq: true},
	bytecode.OpBeq:   {eq: true},
	bytecode.OpBneUn: {eq: true, invert: true},
	bytecode.OpCgt:   {},
	bytecode.OpBgt:   {},
	bytecode.OpCgtUn: {unsigned: true},
	bytecode.OpBgtUn: {unsigned: true},
	bytecode.OpClt:   {swap: true},
	bytecode.OpBlt:   {swap: true},
	bytecode.OpCltUn: {unsigned: true, swap: true},
	bytecode.OpBltUn: {unsigned: true, swap: true},
	bytecode.OpBge:   {swap: true, invert: true},
	bytecode.OpBgeUn: {unsigned: true, swap: true, invert: true},
	bytecode.OpBle:   {invert: true},
	bytecode.OpBleUn: {unsigned: true, invert: true},
}

// compare 生成比较掩码 (全 1 或全 0)。invert 表示掩码为假时条件成立
func (s *selector) compare(node Tree, op bytecode.OpCode, l, r Tree) (spu.Reg, bool) {
	rule := cmpRules[op]
	lt, rt := l.SlotType(), r.SlotType()
	if lt.IsWide() || rt.IsWide() {
		s.fail(node, "64-bit comparison")
	}
	if rule.swap {
		l, r = r, l
	}

	if lt.IsFloat() {
		code := spu.OpFcgt
		if rule.eq {
			code = spu.OpFceq
		}
		return s.rr(code, l, r), rule.invert
	}

	if c, ok := intConst(r); ok && fitsI10(c) {
		code := spu.OpCgti
		switch {
		case rule.eq:
			code = spu.OpCeqi
		case rule.unsigned:
			code = spu.OpClgti
		}
		return s.immediate(code, l, int(c)), rule.invert
	}
	code := spu.OpCgt
	switch {
	case rule.eq:
		code = spu.OpCeq
	case rule.unsigned:
		code = spu.OpClgt
	}
	return s.rr(code, l, r), rule.invert
}

// condition brtrue/brfalse 的条件。比较节点直接使用其掩码
func (s *selector) condition(c Tree) (spu.Reg, bool) {
	if op, ok := c.(*OpTree); ok {
		switch op.Op {
		case bytecode.OpCeq, bytecode.OpCgt, bytecode.OpCgtUn, bytecode.OpClt, bytecode.OpCltUn:
			return s.compare(op, op.Op, op.Args[0], op.Args[1])
		}
	}
	return s.expr(c), false
}

func branchOp(invert bool) spu.OpCode {
	if invert {
		return spu.OpBrz
	}
	return spu.OpBrnz
}

// ----------------------------------------------------------------------------
// 调用
// ----------------------------------------------------------------------------

// call 返回结果寄存器，无返回值时为 NoReg
func (s *selector) call(c *CallTree) spu.Reg {
	ref := c.Method
	switch ref.Intrinsic {
	case bytecode.IntrinsicReadChannel:
		ch := s.channel(c)
		t := s.regs.New()
		s.emit(spu.NewChannel(spu.OpRdch, t, ch))
		return t
	case bytecode.IntrinsicWriteChannel:
		ch := s.channel(c)
		if len(c.Args) != 2 {
			s.fail(c, "write_channel takes a channel and a value")
		}
		v := s.expr(c.Args[1])
		s.emit(spu.NewChannel(spu.OpWrch, v, ch))
		return spu.NoReg
	}

	if len(c.Args) > len(s.conv.ArgRegs) {
		s.fail(c, "%d arguments exceed %d argument registers", len(c.Args), len(s.conv.ArgRegs))
	}
	if c.Type.IsWide() {
		s.fail(c, "64-bit return value")
	}
	vals := make([]spu.Reg, len(c.Args))
	for i, a := range c.Args {
		s.checkScalar(a)
		vals[i] = s.expr(a)
	}
	uses := make([]spu.Reg, len(vals))
	for i, v := range vals {
		uses[i], _ = s.conv.ArgReg(i)
		s.emit(spu.NewMove(uses[i], v))
	}
	brsl := spu.NewObjectRef(spu.OpBrsl, s.conv.LinkReg, s.syms.Routine(ref.Name))
	brsl.ImplicitUses = uses
	brsl.ImplicitDefs = s.conv.CallerSaved
	s.emit(brsl)
	s.leaf = false

	if !ref.HasResult() {
		return spu.NoReg
	}
	t := s.regs.New()
	s.emit(spu.NewMove(t, s.conv.RetReg))
	return t
}

// channel 通道号必须是 0..127 的常量
func (s *selector) channel(c *CallTree) int {
	if len(c.Args) == 0 {
		s.fail(c, "channel intrinsic without a channel number")
	}
	ch, ok := intConst(c.Args[0])
	if !ok || ch < 0 || ch > 127 {
		s.fail(c, "channel number must be a constant in 0..127")
	}
	return int(ch)
}

func (s *selector) checkScalar(t Tree) {
	if t.SlotType().IsWide() {
		s.fail(t, "64-bit value")
	}
}

// ----------------------------------------------------------------------------
// 辅助函数
// ----------------------------------------------------------------------------

func intConst(t Tree) (int64, bool) {
	if op, ok := t.(*OpTree); ok && op.Op == bytecode.OpLdcI4 {
		return op.Operand.Int, true
	}
	return 0, false
}

// intProduct 32 位整数乘法节点
func intProduct(t Tree) (*OpTree, bool) {
	op, ok := t.(*OpTree)
	if !ok || op.Op != bytecode.OpMul || op.Type.IsFloat() || op.Type.IsWide() {
		return nil, false
	}
	return op, true
}

func fitsI10(v int64) bool {
	return v >= -512 && v <= 511
}
