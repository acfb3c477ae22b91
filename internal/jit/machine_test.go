package jit

import (
	"encoding/binary"
	"testing"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 测试用的指令级模拟器
// ============================================================================
//
// 直接执行修补后的指令 (按字节地址寻址)，寄存器为完整的 16 字节四字，
// 足以检查分配、溢出和调度之后的程序语义。

type quad [16]byte

func (q *quad) word(i int) uint32 {
	return binary.BigEndian.Uint32(q[i*4:])
}

func (q *quad) setWord(i int, v uint32) {
	binary.BigEndian.PutUint32(q[i*4:], v)
}

func splat(v uint32) quad {
	var q quad
	for i := 0; i < 4; i++ {
		q.setWord(i, v)
	}
	return q
}

const (
	stackTop   = 0x3fff0
	returnAddr = 0x40000
	maxSteps   = 100000
)

type machine struct {
	t     *testing.T
	code  map[int]*spu.Instruction
	regs  [spu.NumHardware]quad
	mem   map[int]quad
	in    map[int][]uint32 // 通道 -> 待读取的值
	out   map[int][]uint32 // 通道 -> 写出的值
	steps int
}

func newMachine(t *testing.T, methods ...*MethodCompiler) *machine {
	t.Helper()
	m := &machine{
		t:    t,
		code: make(map[int]*spu.Instruction),
		mem:  make(map[int]quad),
		in:   make(map[int][]uint32),
		out:  make(map[int][]uint32),
	}
	for _, mc := range methods {
		if mc.Phase() != PhaseAddressesPatched {
			t.Fatalf("%s: simulator needs patched code, method is in phase %s", mc.Name(), mc.Phase())
		}
		for _, b := range mc.Blocks() {
			for inst := b.Head; inst != nil; inst = inst.Next {
				m.code[inst.Offset] = inst
			}
		}
	}
	return m
}

func (m *machine) load(addr int) quad {
	return m.mem[addr&^15]
}

func (m *machine) store(addr int, q quad) {
	m.mem[addr&^15] = q
}

// storeWord 写入本地存储中的一个字 (测试准备数据用)
func (m *machine) storeWord(addr int, v uint32) {
	q := m.load(addr)
	q.setWord((addr&15)/4, v)
	m.store(addr, q)
}

func (m *machine) loadWord(addr int) uint32 {
	q := m.load(addr)
	return q.word((addr & 15) / 4)
}

// call 从 entry 开始执行，参数放在 $3 起的寄存器中，返回 $3 的首选字
func (m *machine) call(entry int, args ...uint32) uint32 {
	m.t.Helper()
	for i, a := range args {
		m.regs[spu.ArgReg(i)] = splat(a)
	}
	m.regs[spu.SP] = splat(stackTop)
	m.regs[spu.LR] = splat(returnAddr)

	pc := entry
	for pc != returnAddr {
		m.steps++
		if m.steps > maxSteps {
			m.t.Fatalf("no return after %d steps", maxSteps)
		}
		inst, ok := m.code[pc]
		if !ok {
			m.t.Fatalf("jump to %#x outside of the code", pc)
		}
		pc = m.exec(inst, pc)
	}
	return m.regs[spu.ReturnReg].word(0)
}

func sext10(v int) uint32 {
	return uint32(int32(v))
}

func (m *machine) exec(inst *spu.Instruction, pc int) int {
	r := &m.regs
	ra, rb := func() *quad { return &r[inst.Ra] }, func() *quad { return &r[inst.Rb] }
	wordwise := func(f func(a, b uint32) uint32) {
		var out quad
		a, b := quad{}, quad{}
		if inst.Ra != spu.NoReg {
			a = *ra()
		}
		if inst.Rb != spu.NoReg {
			b = *rb()
		}
		for i := 0; i < 4; i++ {
			out.setWord(i, f(a.word(i), b.word(i)))
		}
		r[inst.Rt] = out
	}
	mask := func(c bool) uint32 {
		if c {
			return 0xffffffff
		}
		return 0
	}
	imm := sext10(inst.Constant)
	target := inst.Offset + inst.Constant*4

	switch inst.Op {
	case spu.OpA:
		wordwise(func(a, b uint32) uint32 { return a + b })
	case spu.OpSf:
		wordwise(func(a, b uint32) uint32 { return b - a })
	case spu.OpAnd:
		wordwise(func(a, b uint32) uint32 { return a & b })
	case spu.OpOr:
		wordwise(func(a, b uint32) uint32 { return a | b })
	case spu.OpXor:
		wordwise(func(a, b uint32) uint32 { return a ^ b })
	case spu.OpNor:
		wordwise(func(a, b uint32) uint32 { return ^(a | b) })
	case spu.OpCeq:
		wordwise(func(a, b uint32) uint32 { return mask(a == b) })
	case spu.OpCgt:
		wordwise(func(a, b uint32) uint32 { return mask(int32(a) > int32(b)) })
	case spu.OpClgt:
		wordwise(func(a, b uint32) uint32 { return mask(a > b) })
	case spu.OpShl:
		wordwise(func(a, b uint32) uint32 { return shiftLeft(a, b&0x3f) })
	case spu.OpRotm:
		wordwise(func(a, b uint32) uint32 { return shiftRight(a, -b&0x3f) })
	case spu.OpRotma:
		wordwise(func(a, b uint32) uint32 { return shiftRightArith(a, -b&0x3f) })
	case spu.OpMpyh:
		wordwise(func(a, b uint32) uint32 { return (a >> 16) * (b & 0xffff) << 16 })
	case spu.OpMpyu:
		wordwise(func(a, b uint32) uint32 { return (a & 0xffff) * (b & 0xffff) })

	case spu.OpAi:
		wordwise(func(a, _ uint32) uint32 { return a + imm })
	case spu.OpSfi:
		wordwise(func(a, _ uint32) uint32 { return imm - a })
	case spu.OpAndi:
		wordwise(func(a, _ uint32) uint32 { return a & imm })
	case spu.OpOri:
		wordwise(func(a, _ uint32) uint32 { return a | imm })
	case spu.OpXori:
		wordwise(func(a, _ uint32) uint32 { return a ^ imm })
	case spu.OpCeqi:
		wordwise(func(a, _ uint32) uint32 { return mask(a == imm) })
	case spu.OpCgti:
		wordwise(func(a, _ uint32) uint32 { return mask(int32(a) > int32(imm)) })
	case spu.OpClgti:
		wordwise(func(a, _ uint32) uint32 { return mask(a > imm) })
	case spu.OpShli:
		wordwise(func(a, _ uint32) uint32 { return shiftLeft(a, imm&0x3f) })
	case spu.OpRotmi:
		wordwise(func(a, _ uint32) uint32 { return shiftRight(a, -imm&0x3f) })
	case spu.OpRotmai:
		wordwise(func(a, _ uint32) uint32 { return shiftRightArith(a, -imm&0x3f) })

	case spu.OpIl:
		r[inst.Rt] = splat(uint32(int32(int16(inst.Constant))))
	case spu.OpIlhu:
		r[inst.Rt] = splat(uint32(inst.Constant) << 16)
	case spu.OpIohl:
		q := r[inst.Rt]
		for i := 0; i < 4; i++ {
			q.setWord(i, q.word(i)|uint32(inst.Constant&0xffff))
		}
		r[inst.Rt] = q

	case spu.OpLqd:
		r[inst.Rt] = m.load(int(int32(ra().word(0))) + inst.Constant)
	case spu.OpStqd:
		m.store(int(int32(ra().word(0)))+inst.Constant, r[inst.Rt])
	case spu.OpLqr:
		r[inst.Rt] = m.load(target)
	case spu.OpStqr:
		m.store(target, r[inst.Rt])
	case spu.OpRotqby:
		n := int(rb().word(0) & 15)
		a := *ra()
		var out quad
		for i := range out {
			out[i] = a[(i+n)&15]
		}
		r[inst.Rt] = out
	case spu.OpCwd:
		t := (int(ra().word(0)) + inst.Constant) & 0xc
		var out quad
		for i := range out {
			out[i] = byte(0x10 + i)
		}
		for i := 0; i < 4; i++ {
			out[t+i] = byte(i)
		}
		r[inst.Rt] = out
	case spu.OpShufb:
		a, b, c := r[inst.Ra], r[inst.Rb], r[inst.Rc]
		var out quad
		for i, sel := range c {
			switch {
			case sel&0xc0 == 0x80:
				out[i] = 0
			case sel&0xe0 == 0xc0:
				out[i] = 0xff
			case sel&0xe0 == 0xe0:
				out[i] = 0x80
			case sel&0x10 == 0:
				out[i] = a[sel&15]
			default:
				out[i] = b[sel&15]
			}
		}
		r[inst.Rt] = out

	case spu.OpBr:
		return target
	case spu.OpBrz:
		if r[inst.Rt].word(0) == 0 {
			return target
		}
	case spu.OpBrnz:
		if r[inst.Rt].word(0) != 0 {
			return target
		}
	case spu.OpBrsl:
		r[inst.Rt] = splat(uint32(pc + 4))
		return target
	case spu.OpBi:
		return int(ra().word(0)) &^ 3

	case spu.OpRdch:
		q := m.in[inst.Constant]
		if len(q) == 0 {
			m.t.Fatalf("%s: channel %d is empty", inst, inst.Constant)
		}
		r[inst.Rt] = splat(q[0])
		m.in[inst.Constant] = q[1:]
	case spu.OpWrch:
		m.out[inst.Constant] = append(m.out[inst.Constant], r[inst.Rt].word(0))

	case spu.OpNop, spu.OpLnop:
	default:
		m.t.Fatalf("simulator: unsupported instruction %s", inst)
	}
	return pc + 4
}

func shiftLeft(a, n uint32) uint32 {
	if n >= 32 {
		return 0
	}
	return a << n
}

func shiftRight(a, n uint32) uint32 {
	if n >= 32 {
		return 0
	}
	return a >> n
}

func shiftRightArith(a, n uint32) uint32 {
	if n >= 32 {
		n = 31
	}
	return uint32(int32(a) >> n)
}

// compileAt 编译单个方法并修补到 base，失败时终止测试
func compileAt(t *testing.T, m *bytecode.Method, config Config, base int) *MethodCompiler {
	t.Helper()
	mc := NewMethodCompiler(m, config, nil, nil)
	if err := mc.Run(); err != nil {
		t.Fatalf("%s: %v", m.Name, err)
	}
	if err := mc.PatchAddresses(base); err != nil {
		t.Fatalf("%s: patch: %v", m.Name, err)
	}
	return mc
}

// run 编译并执行单个方法
func run(t *testing.T, m *bytecode.Method, config Config, args ...uint32) uint32 {
	t.Helper()
	mc := compileAt(t, m, config, 0)
	return newMachine(t, mc).call(0, args...)
}
