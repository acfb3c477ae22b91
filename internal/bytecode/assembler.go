package bytecode

import "fmt"

// Assembler 以标签方式构建方法体，偏移量按编码长度自动计算
type Assembler struct {
	method *Method
	offset int
	labels map[string]int
	fixups []fixup
	err    error
}

type fixup struct {
	index int
	label string
}

// NewAssembler 创建方法汇编器
func NewAssembler(name string, returns *TypeDesc, params ...*TypeDesc) *Assembler {
	if returns == nil {
		returns = TypeVoid
	}
	return &Assembler{
		method: &Method{Name: name, Params: params, Returns: returns},
		labels: make(map[string]int),
	}
}

// DeclareLocal 声明局部变量，返回其编号
func (a *Assembler) DeclareLocal(t *TypeDesc) int {
	a.method.Locals = append(a.method.Locals, t)
	return len(a.method.Locals) - 1
}

// Label 在当前位置定义标签
func (a *Assembler) Label(name string) {
	if _, dup := a.labels[name]; dup {
		a.fail(fmt.Errorf("%s: duplicate label %q", a.method.Name, name))
		return
	}
	a.labels[name] = a.offset
}

// Offset 下一条指令的偏移
func (a *Assembler) Offset() int {
	return a.offset
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *Assembler) emit(op OpCode, operand Operand) {
	if !op.Valid() {
		a.fail(fmt.Errorf("%s: invalid opcode %d", a.method.Name, op))
		return
	}
	if want := op.Info().Operand; want != operand.Kind {
		a.fail(fmt.Errorf("%s: %s: wrong operand kind", a.method.Name, op))
		return
	}
	inst := Instruction{Offset: a.offset, Op: op, Operand: operand}
	a.method.Body = append(a.method.Body, inst)
	a.offset += inst.Size()
}

// Emit 无操作数指令
func (a *Assembler) Emit(op OpCode) *Assembler {
	a.emit(op, Operand{})
	return a
}

// EmitInt 整数常量
func (a *Assembler) EmitInt(op OpCode, v int64) *Assembler {
	a.emit(op, Operand{Kind: OperandInt, Int: v})
	return a
}

// EmitFloat 浮点常量
func (a *Assembler) EmitFloat(op OpCode, v float64) *Assembler {
	a.emit(op, Operand{Kind: OperandFloat, Float: v})
	return a
}

// EmitLocal 局部变量指令
func (a *Assembler) EmitLocal(op OpCode, index int) *Assembler {
	a.emit(op, Operand{Kind: OperandLocal, Index: index})
	return a
}

// EmitParam 参数指令
func (a *Assembler) EmitParam(op OpCode, index int) *Assembler {
	a.emit(op, Operand{Kind: OperandParam, Index: index})
	return a
}

// EmitBranch 分支指令，目标在 Finish 时回填
func (a *Assembler) EmitBranch(op OpCode, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.method.Body), label: label})
	a.emit(op, Operand{Kind: OperandTarget, Target: -1})
	return a
}

// EmitCall 方法调用
func (a *Assembler) EmitCall(ref *MethodRef) *Assembler {
	a.emit(OpCall, Operand{Kind: OperandMethod, Method: ref})
	return a
}

// EmitField 静态字段访问
func (a *Assembler) EmitField(op OpCode, field *FieldRef) *Assembler {
	a.emit(op, Operand{Kind: OperandField, Field: field})
	return a
}

// Finish 回填分支目标并校验方法体
func (a *Assembler) Finish() (*Method, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("%s: undefined label %q", a.method.Name, f.label)
		}
		a.method.Body[f.index].Operand.Target = target
	}
	if err := a.method.Validate(); err != nil {
		return nil, err
	}
	return a.method, nil
}

// MustFinish 用于测试和内置方法，出错时 panic
func (a *Assembler) MustFinish() *Method {
	m, err := a.Finish()
	if err != nil {
		panic(err)
	}
	return m
}
