package jit

import (
	"fmt"

	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 地址修补
// ============================================================================
//
// 第一遍给块和指令分配字节地址 (每条指令 4 字节)，第二遍把转移目标和
// 对象引用改写为相对当前指令的字位移。

// LayoutBlocks 从 base 开始连续排布所有块，返回结束地址
func LayoutBlocks(blocks []*spu.BasicBlock, base int) int {
	pc := base
	for _, b := range blocks {
		b.Offset = pc
		for inst := b.Head; inst != nil; inst = inst.Next {
			inst.Offset = pc
			pc += 4
		}
	}
	return pc
}

// PatchBlocks 写入位移。ret 改写为跳转到尾声的 br。
// 引用的对象尚未布局时返回 *NotFoundError，位移超出立即数字段时返回 *InternalError
func PatchBlocks(blocks []*spu.BasicBlock, epilog *spu.BasicBlock, referrer string) error {
	for _, b := range blocks {
		for inst := b.Head; inst != nil; inst = inst.Next {
			if inst.Op == spu.OpRet {
				if epilog == nil {
					return &InternalError{Method: referrer, Offset: -1, Msg: "ret without an epilog"}
				}
				inst.Op = spu.OpBr
				inst.Target = epilog
				inst.ImplicitUses = nil
			}

			switch {
			case inst.Target != nil:
				if inst.Target.Offset < 0 {
					return &InternalError{Method: referrer, Offset: -1,
						Msg: fmt.Sprintf("branch target %s is not laid out", inst.Target.Label())}
				}
				inst.Constant = (inst.Target.Offset - inst.Offset) / 4

			case inst.Object != nil:
				off := inst.Object.ObjectOffset()
				if off < 0 {
					return &NotFoundError{Symbol: inst.Object.ObjectName(), Referrer: referrer}
				}
				inst.Constant = (off - inst.Offset) / 4

			default:
				continue
			}
			if !spu.ImmediateFits(inst.Op, inst.Constant) {
				return &InternalError{Method: referrer, Offset: -1,
					Msg: fmt.Sprintf("%s at %#x: displacement of %d words out of range", inst.Info().Name, inst.Offset, inst.Constant)}
			}
		}
	}
	return nil
}
