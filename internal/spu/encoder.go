package spu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ============================================================================
// 指令编码
// ============================================================================

var (
	// ErrVirtualRegister 编码时仍存在虚拟寄存器
	ErrVirtualRegister = errors.New("virtual register in encoded instruction")
	// ErrImmediateRange 立即数超出字段范围
	ErrImmediateRange = errors.New("immediate out of range")
	// ErrPseudo 伪指令不能编码
	ErrPseudo = errors.New("pseudo instruction cannot be encoded")
)

func field(r Reg) (uint32, error) {
	switch {
	case r == NoReg:
		return 0, nil
	case r.IsHardware():
		return uint32(r), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrVirtualRegister, r)
}

// unsignedImmediate 立即数字段按无符号数解释的指令，其余指令的立即数带符号
var unsignedImmediate = map[OpCode]bool{
	OpIlhu:  true,
	OpIlh:   true,
	OpIohl:  true,
	OpIla:   true,
	OpCsflt: true,
	OpCflts: true,
	OpRdch:  true,
	OpWrch:  true,
}

var immediateBits = map[Format]int{
	FormatRI7:  7,
	FormatRI8:  8,
	FormatRI10: 10,
	FormatRI16: 16,
	FormatRI18: 18,
}

func immediateRange(bits int, unsigned bool) (lo, hi int) {
	if unsigned {
		return 0, 1<<bits - 1
	}
	return -(1 << (bits - 1)), 1<<(bits-1) - 1
}

func immediate(v, bits int, unsigned bool) (uint32, error) {
	lo, hi := immediateRange(bits, unsigned)
	if v < lo || v > hi {
		sign := "signed"
		if unsigned {
			sign = "unsigned"
		}
		return 0, fmt.Errorf("%w: %d does not fit in %d %s bits", ErrImmediateRange, v, bits, sign)
	}
	return uint32(v) & (1<<bits - 1), nil
}

// ImmediateFits op 的立即数字段能否表示 v (lqd/stqd 为字节偏移)
func ImmediateFits(op OpCode, v int) bool {
	info := op.Info()
	bits, ok := immediateBits[info.Format]
	if !ok {
		return true
	}
	if op == OpLqd || op == OpStqd {
		if v%16 != 0 {
			return false
		}
		v /= 16
	}
	lo, hi := immediateRange(bits, unsignedImmediate[op])
	return v >= lo && v <= hi
}

// Encode 编码一条指令为 32 位字
func Encode(inst *Instruction) (uint32, error) {
	info := inst.Info()
	if info.Format == FormatPseudo {
		return 0, fmt.Errorf("%w: %s", ErrPseudo, info.Name)
	}

	rt, err := field(inst.Rt)
	if err != nil {
		return 0, err
	}
	ra, err := field(inst.Ra)
	if err != nil {
		return 0, err
	}
	rb, err := field(inst.Rb)
	if err != nil {
		return 0, err
	}
	rc, err := field(inst.Rc)
	if err != nil {
		return 0, err
	}

	imm := inst.Constant
	switch info.Format {
	case FormatRR:
		if inst.Op == OpRdch || inst.Op == OpWrch {
			ch, err := immediate(imm, 7, true)
			if err != nil {
				return 0, fmt.Errorf("%s: bad channel %d", info.Name, imm)
			}
			ra = ch
		}
		return info.Code<<21 | rb<<14 | ra<<7 | rt, nil

	case FormatRRR:
		return info.Code<<28 | rt<<21 | rb<<14 | ra<<7 | rc, nil

	case FormatRI7:
		v, err := immediate(imm, 7, unsignedImmediate[inst.Op])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", info.Name, err)
		}
		return info.Code<<21 | v<<14 | ra<<7 | rt, nil

	case FormatRI8:
		v, err := immediate(imm, 8, unsignedImmediate[inst.Op])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", info.Name, err)
		}
		return info.Code<<22 | v<<14 | ra<<7 | rt, nil

	case FormatRI10:
		if inst.Op == OpLqd || inst.Op == OpStqd {
			if imm%16 != 0 {
				return 0, fmt.Errorf("%s: offset %d is not quadword aligned", info.Name, imm)
			}
			imm /= 16
		}
		v, err := immediate(imm, 10, unsignedImmediate[inst.Op])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", info.Name, err)
		}
		return info.Code<<24 | v<<14 | ra<<7 | rt, nil

	case FormatRI16:
		v, err := immediate(imm, 16, unsignedImmediate[inst.Op])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", info.Name, err)
		}
		return info.Code<<23 | v<<7 | rt, nil

	case FormatRI18:
		v, err := immediate(imm, 18, unsignedImmediate[inst.Op])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", info.Name, err)
		}
		return info.Code<<25 | v<<7 | rt, nil
	}
	return 0, fmt.Errorf("%s: unknown format %d", info.Name, info.Format)
}

// EncodeBlocks 按顺序编码所有块，返回大端字节序的机器码
func EncodeBlocks(blocks []*BasicBlock) ([]byte, error) {
	size := 0
	for _, b := range blocks {
		size += b.Size()
	}
	out := make([]byte, 0, size)
	var word [4]byte
	for _, b := range blocks {
		for inst := b.Head; inst != nil; inst = inst.Next {
			w, err := Encode(inst)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", b.Label(), inst, err)
			}
			binary.BigEndian.PutUint32(word[:], w)
			out = append(out, word[:]...)
		}
	}
	return out, nil
}
