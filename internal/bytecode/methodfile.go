package bytecode

import (
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"
)

// ============================================================================
// 方法文件 (JSON)
// ============================================================================
//
// {
//   "externs": [{"name": "rd", "params": ["int32"], "returns": "int32", "intrinsic": "read_channel"}],
//   "fields":  [{"name": "counter", "type": "int32"}],
//   "methods": [{
//     "name": "max", "params": ["int32", "int32"], "returns": "int32",
//     "body": [
//       {"op": "ldarg", "index": 0}, {"op": "ldarg", "index": 1},
//       {"op": "ble", "target": "else"},
//       {"op": "ldarg", "index": 0}, {"op": "ret"},
//       {"label": "else", "op": "ldarg", "index": 1}, {"op": "ret"}
//     ]
//   }]
// }

type fileJSON struct {
	Externs []signatureJSON `json:"externs,omitempty"`
	Fields  []fieldJSON     `json:"fields,omitempty"`
	Methods []methodJSON    `json:"methods"`
}

type signatureJSON struct {
	Name      string   `json:"name"`
	Params    []string `json:"params,omitempty"`
	Returns   string   `json:"returns,omitempty"`
	Intrinsic string   `json:"intrinsic,omitempty"`
}

type fieldJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type methodJSON struct {
	signatureJSON
	Locals []string          `json:"locals,omitempty"`
	Body   []instructionJSON `json:"body"`
}

type instructionJSON struct {
	Label  string   `json:"label,omitempty"`
	Op     string   `json:"op"`
	Int    *int64   `json:"int,omitempty"`
	Float  *float64 `json:"float,omitempty"`
	Index  *int     `json:"index,omitempty"`
	Target string   `json:"target,omitempty"`
	Method string   `json:"method,omitempty"`
	Field  string   `json:"field,omitempty"`
}

// Module 方法文件解析结果
type Module struct {
	Methods []*Method
	Fields  []*FieldRef
	Externs []*MethodRef
}

// LoadModuleFile 从磁盘读取方法文件
func LoadModuleFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseModule(data)
}

// ParseModule 解析 JSON 方法文件
func ParseModule(data []byte) (*Module, error) {
	var file fileJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse method file: %w", err)
	}

	mod := &Module{}
	methods := make(map[string]*MethodRef)
	fields := make(map[string]*FieldRef)

	for _, ext := range file.Externs {
		ref, err := ext.ref()
		if err != nil {
			return nil, err
		}
		if _, dup := methods[ref.Name]; dup {
			return nil, fmt.Errorf("duplicate method %q", ref.Name)
		}
		methods[ref.Name] = ref
		mod.Externs = append(mod.Externs, ref)
	}
	for _, f := range file.Fields {
		t, err := ParseType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		field := &FieldRef{Name: f.Name, Type: t}
		fields[f.Name] = field
		mod.Fields = append(mod.Fields, field)
	}

	// 先登记所有签名，方法体可以相互调用
	refs := make([]*MethodRef, len(file.Methods))
	for i, m := range file.Methods {
		ref, err := m.ref()
		if err != nil {
			return nil, err
		}
		if _, dup := methods[ref.Name]; dup {
			return nil, fmt.Errorf("duplicate method %q", ref.Name)
		}
		methods[ref.Name] = ref
		refs[i] = ref
	}

	for i, m := range file.Methods {
		method, err := m.build(refs[i], methods, fields)
		if err != nil {
			return nil, err
		}
		mod.Methods = append(mod.Methods, method)
	}
	return mod, nil
}

func parseTypes(names []string) ([]*TypeDesc, error) {
	out := make([]*TypeDesc, 0, len(names))
	for _, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s signatureJSON) ref() (*MethodRef, error) {
	params, err := parseTypes(s.Params)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", s.Name, err)
	}
	returns := TypeVoid
	if s.Returns != "" {
		if returns, err = ParseType(s.Returns); err != nil {
			return nil, fmt.Errorf("method %s: %w", s.Name, err)
		}
	}
	intrinsic, ok := intrinsicNames[s.Intrinsic]
	if !ok {
		return nil, fmt.Errorf("method %s: unknown intrinsic %q", s.Name, s.Intrinsic)
	}
	return &MethodRef{Name: s.Name, Params: params, Returns: returns, Intrinsic: intrinsic}, nil
}

func (m methodJSON) build(ref *MethodRef, methods map[string]*MethodRef, fields map[string]*FieldRef) (*Method, error) {
	asm := NewAssembler(ref.Name, ref.Returns, ref.Params...)
	locals, err := parseTypes(m.Locals)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", ref.Name, err)
	}
	for _, l := range locals {
		asm.DeclareLocal(l)
	}

	for n, inst := range m.Body {
		if inst.Label != "" {
			asm.Label(inst.Label)
		}
		op, ok := ParseOpCode(inst.Op)
		if !ok {
			return nil, fmt.Errorf("method %s: instruction %d: unknown opcode %q", ref.Name, n, inst.Op)
		}
		switch op.Info().Operand {
		case OperandNone:
			asm.Emit(op)
		case OperandInt:
			if inst.Int == nil {
				return nil, fmt.Errorf("method %s: instruction %d: %s needs \"int\"", ref.Name, n, op)
			}
			asm.EmitInt(op, *inst.Int)
		case OperandFloat:
			if inst.Float == nil {
				return nil, fmt.Errorf("method %s: instruction %d: %s needs \"float\"", ref.Name, n, op)
			}
			asm.EmitFloat(op, *inst.Float)
		case OperandLocal, OperandParam:
			if inst.Index == nil {
				return nil, fmt.Errorf("method %s: instruction %d: %s needs \"index\"", ref.Name, n, op)
			}
			if op.Info().Operand == OperandLocal {
				asm.EmitLocal(op, *inst.Index)
			} else {
				asm.EmitParam(op, *inst.Index)
			}
		case OperandTarget:
			asm.EmitBranch(op, inst.Target)
		case OperandMethod:
			callee, ok := methods[inst.Method]
			if !ok {
				return nil, fmt.Errorf("method %s: instruction %d: unknown method %q", ref.Name, n, inst.Method)
			}
			asm.EmitCall(callee)
		case OperandField:
			field, ok := fields[inst.Field]
			if !ok {
				return nil, fmt.Errorf("method %s: instruction %d: unknown field %q", ref.Name, n, inst.Field)
			}
			asm.EmitField(op, field)
		}
	}
	return asm.Finish()
}
