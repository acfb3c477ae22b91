package spu

import (
	"strconv"
	"strings"
)

// Instruction 一条目标指令。寄存器字段可以是虚拟寄存器，分配后全部为硬件寄存器
type Instruction struct {
	Op             OpCode
	Rt, Ra, Rb, Rc Reg

	// Constant 立即数。lqd/stqd 为字节偏移，修补后的转移为字 (4 字节) 位移
	Constant int

	// Target 块内跳转目标; Object 需要修补地址的对象 (例程入口或数据)
	Target *BasicBlock
	Object ObjectRef

	// 调用 / 返回的隐式寄存器读写
	ImplicitUses []Reg
	ImplicitDefs []Reg

	// Offset 布局后在镜像中的字节地址
	Offset int

	Prev, Next *Instruction
	block      *BasicBlock
}

func newInst(op OpCode) *Instruction {
	return &Instruction{Op: op, Rt: NoReg, Ra: NoReg, Rb: NoReg, Rc: NoReg, Offset: -1}
}

// NewRR rt = ra op rb
func NewRR(op OpCode, rt, ra, rb Reg) *Instruction {
	i := newInst(op)
	i.Rt, i.Ra, i.Rb = rt, ra, rb
	return i
}

// NewRRR rt = op(ra, rb, rc)
func NewRRR(op OpCode, rt, ra, rb, rc Reg) *Instruction {
	i := newInst(op)
	i.Rt, i.Ra, i.Rb, i.Rc = rt, ra, rb, rc
	return i
}

// NewRI rt = ra op imm (RI7 / RI8 / RI10)
func NewRI(op OpCode, rt, ra Reg, imm int) *Instruction {
	i := newInst(op)
	i.Rt, i.Ra, i.Constant = rt, ra, imm
	return i
}

// NewImm rt = imm (RI16 / RI18)
func NewImm(op OpCode, rt Reg, imm int) *Instruction {
	i := newInst(op)
	i.Rt, i.Constant = rt, imm
	return i
}

// NewBranch 块间转移。cond 对 br 为 NoReg
func NewBranch(op OpCode, cond Reg, target *BasicBlock) *Instruction {
	i := newInst(op)
	i.Rt, i.Target = cond, target
	return i
}

// NewObjectRef 引用例程或数据对象的指令 (brsl / lqr / stqr)
func NewObjectRef(op OpCode, rt Reg, obj ObjectRef) *Instruction {
	i := newInst(op)
	i.Rt, i.Object = rt, obj
	return i
}

// NewMove 寄存器复制 (ori rt, ra, 0)
func NewMove(dst, src Reg) *Instruction {
	return NewRI(OpOri, dst, src, 0)
}

// NewChannel rdch / wrch
func NewChannel(op OpCode, rt Reg, channel int) *Instruction {
	i := newInst(op)
	i.Rt, i.Constant = rt, channel
	return i
}

// NewInst 无寄存器操作数的指令 (nop, lnop, ret)
func NewInst(op OpCode) *Instruction {
	return newInst(op)
}

// Info 指令描述
func (i *Instruction) Info() *OpInfo {
	return i.Op.Info()
}

// Block 所属基本块
func (i *Instruction) Block() *BasicBlock {
	return i.block
}

// IsMove 寄存器复制指令
func (i *Instruction) IsMove() bool {
	return i.Op == OpOri && i.Constant == 0 && i.Rt != NoReg && i.Ra != NoReg && len(i.ImplicitDefs) == 0
}

// Def 显式目的寄存器
func (i *Instruction) Def() Reg {
	if i.Info().Operands&RtDef != 0 {
		return i.Rt
	}
	return NoReg
}

// Uses 追加所有被读的寄存器 (显式 + 隐式)
func (i *Instruction) Uses(dst []Reg) []Reg {
	ops := i.Info().Operands
	if ops&RtUse != 0 {
		dst = append(dst, i.Rt)
	}
	if ops&RaUse != 0 {
		dst = append(dst, i.Ra)
	}
	if ops&RbUse != 0 {
		dst = append(dst, i.Rb)
	}
	if ops&RcUse != 0 {
		dst = append(dst, i.Rc)
	}
	return append(dst, i.ImplicitUses...)
}

// Defs 追加所有被写的寄存器 (显式 + 隐式)
func (i *Instruction) Defs(dst []Reg) []Reg {
	if d := i.Def(); d != NoReg {
		dst = append(dst, d)
	}
	return append(dst, i.ImplicitDefs...)
}

// UsesReg 是否显式读取 r
func (i *Instruction) UsesReg(r Reg) bool {
	ops := i.Info().Operands
	return (ops&RtUse != 0 && i.Rt == r) ||
		(ops&RaUse != 0 && i.Ra == r) ||
		(ops&RbUse != 0 && i.Rb == r) ||
		(ops&RcUse != 0 && i.Rc == r)
}

// ReplaceUses 把显式读取的 old 换成 new
func (i *Instruction) ReplaceUses(old, new Reg) {
	ops := i.Info().Operands
	if ops&RtUse != 0 && i.Rt == old {
		i.Rt = new
	}
	if ops&RaUse != 0 && i.Ra == old {
		i.Ra = new
	}
	if ops&RbUse != 0 && i.Rb == old {
		i.Rb = new
	}
	if ops&RcUse != 0 && i.Rc == old {
		i.Rc = new
	}
}

// ReplaceDef 把目的寄存器 old 换成 new
func (i *Instruction) ReplaceDef(old, new Reg) {
	if i.Info().Operands&RtDef != 0 && i.Rt == old {
		i.Rt = new
	}
}

// MapRegs 用 f 改写所有显式寄存器字段
func (i *Instruction) MapRegs(f func(Reg) Reg) {
	for _, r := range []*Reg{&i.Rt, &i.Ra, &i.Rb, &i.Rc} {
		if *r != NoReg {
			*r = f(*r)
		}
	}
}

func (i *Instruction) String() string {
	info := i.Info()
	var args []string
	reg := func(r Reg) {
		args = append(args, r.String())
	}
	switch {
	case i.Op == OpLqd || i.Op == OpStqd:
		reg(i.Rt)
		args = append(args, strconv.Itoa(i.Constant)+"("+i.Ra.String()+")")
	case i.Op == OpCwd:
		reg(i.Rt)
		args = append(args, strconv.Itoa(i.Constant)+"("+i.Ra.String()+")")
	case i.Op == OpRdch || i.Op == OpWrch:
		if i.Op == OpRdch {
			reg(i.Rt)
			args = append(args, "$ch"+strconv.Itoa(i.Constant))
		} else {
			args = append(args, "$ch"+strconv.Itoa(i.Constant))
			reg(i.Rt)
		}
	default:
		ops := info.Operands
		if ops&(RtDef|RtUse) != 0 {
			reg(i.Rt)
		}
		if ops&RaUse != 0 {
			reg(i.Ra)
		}
		if ops&RbUse != 0 {
			reg(i.Rb)
		}
		if ops&RcUse != 0 {
			reg(i.Rc)
		}
		switch {
		case i.Target != nil:
			args = append(args, i.Target.Label())
		case i.Object != nil:
			args = append(args, i.Object.ObjectName())
		case info.Format != FormatRR && info.Format != FormatRRR && info.Format != FormatPseudo:
			args = append(args, strconv.Itoa(i.Constant))
		}
	}
	if len(args) == 0 {
		return info.Name
	}
	return info.Name + " " + strings.Join(args, ",")
}
