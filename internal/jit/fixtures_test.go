package jit

import (
	bc "github.com/tangzhangming/spujit/internal/bytecode"
)

// 测试用方法

// maxMethod max(a, b)
func maxMethod() *bc.Method {
	a := bc.NewAssembler("max", bc.TypeI4, bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).EmitParam(bc.OpLdarg, 1)
	a.EmitBranch(bc.OpBle, "else")
	a.EmitParam(bc.OpLdarg, 0).Emit(bc.OpRet)
	a.Label("else")
	a.EmitParam(bc.OpLdarg, 1).Emit(bc.OpRet)
	return a.MustFinish()
}

// halveDown 循环头就是入口块: do { n >>= 1 } while (n > 10)
func halveDown() *bc.Method {
	a := bc.NewAssembler("halve_down", bc.TypeI4, bc.TypeI4)
	a.Label("top")
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 1).Emit(bc.OpShr).EmitParam(bc.OpStarg, 0)
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 10).EmitBranch(bc.OpBgt, "top")
	a.EmitParam(bc.OpLdarg, 0).Emit(bc.OpRet)
	return a.MustFinish()
}

// sumLoop sum(i) 或 sum(i*i)，i 从 0 到 n-1
func sumLoop(name string, square bool) *bc.Method {
	a := bc.NewAssembler(name, bc.TypeI4, bc.TypeI4)
	sum := a.DeclareLocal(bc.TypeI4)
	i := a.DeclareLocal(bc.TypeI4)
	a.EmitInt(bc.OpLdcI4, 0).EmitLocal(bc.OpStloc, sum)
	a.EmitInt(bc.OpLdcI4, 0).EmitLocal(bc.OpStloc, i)
	a.EmitBranch(bc.OpBr, "cond")

	a.Label("body")
	a.EmitLocal(bc.OpLdloc, sum).EmitLocal(bc.OpLdloc, i)
	if square {
		a.EmitLocal(bc.OpLdloc, i).Emit(bc.OpMul)
	}
	a.Emit(bc.OpAdd).EmitLocal(bc.OpStloc, sum)
	a.EmitLocal(bc.OpLdloc, i).EmitInt(bc.OpLdcI4, 1).Emit(bc.OpAdd).EmitLocal(bc.OpStloc, i)

	a.Label("cond")
	a.EmitLocal(bc.OpLdloc, i).EmitParam(bc.OpLdarg, 0)
	a.EmitBranch(bc.OpBlt, "body")
	a.EmitLocal(bc.OpLdloc, sum).Emit(bc.OpRet)
	return a.MustFinish()
}

// squareLoop 常量上界: for i in 0..5 { sum += i*i }
func squareLoop() *bc.Method {
	a := bc.NewAssembler("square_loop", bc.TypeI4)
	sum := a.DeclareLocal(bc.TypeI4)
	i := a.DeclareLocal(bc.TypeI4)
	a.EmitInt(bc.OpLdcI4, 0).EmitLocal(bc.OpStloc, sum)
	a.EmitInt(bc.OpLdcI4, 0).EmitLocal(bc.OpStloc, i)
	a.EmitBranch(bc.OpBr, "cond")

	a.Label("body")
	a.EmitLocal(bc.OpLdloc, sum)
	a.EmitLocal(bc.OpLdloc, i).EmitLocal(bc.OpLdloc, i).Emit(bc.OpMul)
	a.Emit(bc.OpAdd).EmitLocal(bc.OpStloc, sum)
	a.EmitLocal(bc.OpLdloc, i).EmitInt(bc.OpLdcI4, 1).Emit(bc.OpAdd).EmitLocal(bc.OpStloc, i)

	a.Label("cond")
	a.EmitLocal(bc.OpLdloc, i).EmitInt(bc.OpLdcI4, 5)
	a.EmitBranch(bc.OpBlt, "body")
	a.EmitLocal(bc.OpLdloc, sum).Emit(bc.OpRet)
	return a.MustFinish()
}

// ternary c != 0 ? 10 : 20，两条路径在汇合点各留一个栈值
func ternary() *bc.Method {
	a := bc.NewAssembler("ternary", bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0)
	a.EmitBranch(bc.OpBrfalse, "else")
	a.EmitInt(bc.OpLdcI4, 10)
	a.EmitBranch(bc.OpBr, "done")
	a.Label("else")
	a.EmitInt(bc.OpLdcI4, 20)
	a.Label("done")
	a.Emit(bc.OpRet)
	return a.MustFinish()
}

// arraySum 数组元素之和
func arraySum() *bc.Method {
	a := bc.NewAssembler("array_sum", bc.TypeI4, bc.ArrayOf(bc.TypeI4))
	sum := a.DeclareLocal(bc.TypeI4)
	i := a.DeclareLocal(bc.TypeI4)
	a.EmitInt(bc.OpLdcI4, 0).EmitLocal(bc.OpStloc, sum)
	a.EmitInt(bc.OpLdcI4, 0).EmitLocal(bc.OpStloc, i)
	a.EmitBranch(bc.OpBr, "cond")

	a.Label("body")
	a.EmitLocal(bc.OpLdloc, sum)
	a.EmitParam(bc.OpLdarg, 0).EmitLocal(bc.OpLdloc, i).Emit(bc.OpLdelemI4)
	a.Emit(bc.OpAdd).EmitLocal(bc.OpStloc, sum)
	a.EmitLocal(bc.OpLdloc, i).EmitInt(bc.OpLdcI4, 1).Emit(bc.OpAdd).EmitLocal(bc.OpStloc, i)

	a.Label("cond")
	a.EmitLocal(bc.OpLdloc, i)
	a.EmitParam(bc.OpLdarg, 0).Emit(bc.OpLdlen)
	a.EmitBranch(bc.OpBlt, "body")
	a.EmitLocal(bc.OpLdloc, sum).Emit(bc.OpRet)
	return a.MustFinish()
}

// arrayPatch arr[1] = arr[0] + arr[2]; return arr[1]
func arrayPatch() *bc.Method {
	a := bc.NewAssembler("array_patch", bc.TypeI4, bc.ArrayOf(bc.TypeI4))
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 1)
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 0).Emit(bc.OpLdelemI4)
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 2).Emit(bc.OpLdelemI4)
	a.Emit(bc.OpAdd).Emit(bc.OpStelemI4)
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, 1).Emit(bc.OpLdelemI4)
	a.Emit(bc.OpRet)
	return a.MustFinish()
}

// addressTaken 通过局部变量的地址写入
func addressTaken() *bc.Method {
	a := bc.NewAssembler("address_taken", bc.TypeI4)
	x := a.DeclareLocal(bc.TypeI4)
	a.EmitInt(bc.OpLdcI4, 5).EmitLocal(bc.OpStloc, x)
	a.EmitLocal(bc.OpLdloca, x).EmitInt(bc.OpLdcI4, 7).Emit(bc.OpStindI4)
	a.EmitLocal(bc.OpLdloc, x).Emit(bc.OpRet)
	return a.MustFinish()
}

// wide 同时保持 n 个值活跃: (a+1) + (a+2) + ... + (a+n)，先全部压栈再相加
func wide(n int) *bc.Method {
	a := bc.NewAssembler("wide", bc.TypeI4, bc.TypeI4)
	for i := 1; i <= n; i++ {
		a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, int64(i)).Emit(bc.OpAdd)
		// 每个值先存入局部变量，迫使它们同时活跃
		a.EmitLocal(bc.OpStloc, a.DeclareLocal(bc.TypeI4))
	}
	a.EmitLocal(bc.OpLdloc, 0)
	for i := 1; i < n; i++ {
		a.EmitLocal(bc.OpLdloc, i).Emit(bc.OpAdd)
	}
	a.Emit(bc.OpRet)
	return a.MustFinish()
}

// binaryOp f(a, b) = a op b
func binaryOp(op bc.OpCode) *bc.Method {
	a := bc.NewAssembler(op.String(), bc.TypeI4, bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).EmitParam(bc.OpLdarg, 1).Emit(op).Emit(bc.OpRet)
	return a.MustFinish()
}

// immediateOp f(a) = a op c
func immediateOp(op bc.OpCode, c int64) *bc.Method {
	a := bc.NewAssembler(op.String()+"_imm", bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).EmitInt(bc.OpLdcI4, c).Emit(op).Emit(bc.OpRet)
	return a.MustFinish()
}

// compareBranch f(a, b) = a cond b ? 1 : 0，用条件转移实现
func compareBranch(op bc.OpCode) *bc.Method {
	a := bc.NewAssembler(op.String(), bc.TypeI4, bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).EmitParam(bc.OpLdarg, 1)
	a.EmitBranch(op, "taken")
	a.EmitInt(bc.OpLdcI4, 0).Emit(bc.OpRet)
	a.Label("taken")
	a.EmitInt(bc.OpLdcI4, 1).Emit(bc.OpRet)
	return a.MustFinish()
}

var (
	readChannel  = &bc.MethodRef{Name: "rd", Params: []*bc.TypeDesc{bc.TypeI4}, Returns: bc.TypeI4, Intrinsic: bc.IntrinsicReadChannel}
	writeChannel = &bc.MethodRef{Name: "wr", Params: []*bc.TypeDesc{bc.TypeI4, bc.TypeI4}, Returns: bc.TypeVoid, Intrinsic: bc.IntrinsicWriteChannel}
)

// channelEcho 从通道 3 读一个值，加一后写到通道 4
func channelEcho() *bc.Method {
	a := bc.NewAssembler("echo", bc.TypeVoid)
	a.EmitInt(bc.OpLdcI4, 4)
	a.EmitInt(bc.OpLdcI4, 3).EmitCall(readChannel)
	a.EmitInt(bc.OpLdcI4, 1).Emit(bc.OpAdd)
	a.EmitCall(writeChannel)
	a.Emit(bc.OpRet)
	return a.MustFinish()
}

// square x*x
func square() *bc.Method {
	a := bc.NewAssembler("square", bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).Emit(bc.OpDup).Emit(bc.OpMul).Emit(bc.OpRet)
	return a.MustFinish()
}

// sumOfSquares square(a) + square(b)，第一次调用的结果跨越第二次调用
func sumOfSquares(sq *bc.MethodRef) *bc.Method {
	a := bc.NewAssembler("sum_of_squares", bc.TypeI4, bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).EmitCall(sq)
	a.EmitParam(bc.OpLdarg, 1).EmitCall(sq)
	a.Emit(bc.OpAdd).Emit(bc.OpRet)
	return a.MustFinish()
}

// counter 静态字段自增并返回新值
func counter(field *bc.FieldRef) *bc.Method {
	a := bc.NewAssembler("next", bc.TypeI4)
	a.EmitField(bc.OpLdsfld, field).EmitInt(bc.OpLdcI4, 1).Emit(bc.OpAdd).EmitField(bc.OpStsfld, field)
	a.EmitField(bc.OpLdsfld, field).Emit(bc.OpRet)
	return a.MustFinish()
}

// testConfig 关闭调度和复制删除之外的默认配置，便于检查指令序列
func testConfig() Config {
	c := DefaultConfig()
	c.Schedule = false
	return c
}

// withColors 限制颜色数的配置
func withColors(kind AllocatorKind, k int) Config {
	c := DefaultConfig()
	c.Allocator = kind
	c.MaxColors = k
	return c
}
