package jit

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tangzhangming/spujit/internal/spu"
)

// rewriteSpills 为每个溢出的虚拟寄存器分配帧槽，并在每个使用点之前装入、
// 每个定义点之后存回。每个位置使用新的临时寄存器，临时寄存器记入 noSpill
func rewriteSpills(blocks []*spu.BasicBlock, spills []spu.Reg, frame *FrameLayout, regs *regCounter, noSpill *bitset.BitSet) {
	slots := make(map[spu.Reg]int, len(spills))
	for _, r := range spills {
		slots[r] = frame.AllocSpillSlot()
	}

	var defs []spu.Reg
	for _, b := range blocks {
		for _, inst := range b.Instructions() {
			for _, r := range spills {
				uses := inst.UsesReg(r)
				defines := false
				defs = inst.Defs(defs[:0])
				for _, d := range defs {
					if d == r {
						defines = true
					}
				}
				if !uses && !defines {
					continue
				}

				// 同时读写 (如 iohl) 的指令使用同一个临时寄存器
				t := regs.New()
				noSpill.Set(uint(t))
				if uses {
					b.InsertBefore(inst, spu.NewRI(spu.OpLqd, t, spu.SP, slots[r]))
					inst.ReplaceUses(r, t)
				}
				if defines {
					inst.ReplaceDef(r, t)
					b.InsertAfter(inst, spu.NewRI(spu.OpStqd, t, spu.SP, slots[r]))
				}
			}
		}
	}
}
