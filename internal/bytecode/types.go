package bytecode

import (
	"fmt"
	"strings"
)

// TypeKind 元数据类型种类
type TypeKind byte

const (
	KindVoid TypeKind = iota
	KindBool
	KindChar
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindI // native int
	KindU // native unsigned int
	KindR4
	KindR8
	KindObject
	KindString
	KindValueType
	KindPointer
	KindByRef
	KindArray
)

var kindNames = [...]string{
	KindVoid:      "void",
	KindBool:      "bool",
	KindChar:      "char",
	KindI1:        "int8",
	KindU1:        "uint8",
	KindI2:        "int16",
	KindU2:        "uint16",
	KindI4:        "int32",
	KindU4:        "uint32",
	KindI8:        "int64",
	KindU8:        "uint64",
	KindI:         "native int",
	KindU:         "native uint",
	KindR4:        "float32",
	KindR8:        "float64",
	KindObject:    "object",
	KindString:    "string",
	KindValueType: "valuetype",
	KindPointer:   "pointer",
	KindByRef:     "byref",
	KindArray:     "array",
}

func (k TypeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// TypeDesc 元数据中的类型描述
type TypeDesc struct {
	Kind TypeKind
	Name string    // 值类型 / 类名
	Elem *TypeDesc // 指针、引用、数组的元素类型
	Size int       // 值类型的字节大小
}

// 预定义基本类型
var (
	TypeVoid   = &TypeDesc{Kind: KindVoid}
	TypeBool   = &TypeDesc{Kind: KindBool}
	TypeChar   = &TypeDesc{Kind: KindChar}
	TypeI1     = &TypeDesc{Kind: KindI1}
	TypeU1     = &TypeDesc{Kind: KindU1}
	TypeI2     = &TypeDesc{Kind: KindI2}
	TypeU2     = &TypeDesc{Kind: KindU2}
	TypeI4     = &TypeDesc{Kind: KindI4}
	TypeU4     = &TypeDesc{Kind: KindU4}
	TypeI8     = &TypeDesc{Kind: KindI8}
	TypeU8     = &TypeDesc{Kind: KindU8}
	TypeI      = &TypeDesc{Kind: KindI}
	TypeU      = &TypeDesc{Kind: KindU}
	TypeR4     = &TypeDesc{Kind: KindR4}
	TypeR8     = &TypeDesc{Kind: KindR8}
	TypeObject = &TypeDesc{Kind: KindObject}
	TypeStr    = &TypeDesc{Kind: KindString}
)

var primitiveByName = map[string]*TypeDesc{
	"void":        TypeVoid,
	"bool":        TypeBool,
	"char":        TypeChar,
	"int8":        TypeI1,
	"uint8":       TypeU1,
	"int16":       TypeI2,
	"uint16":      TypeU2,
	"int32":       TypeI4,
	"uint32":      TypeU4,
	"int64":       TypeI8,
	"uint64":      TypeU8,
	"native int":  TypeI,
	"native uint": TypeU,
	"float32":     TypeR4,
	"float64":     TypeR8,
	"object":      TypeObject,
	"string":      TypeStr,
}

// PointerTo 非托管指针类型
func PointerTo(elem *TypeDesc) *TypeDesc {
	return &TypeDesc{Kind: KindPointer, Elem: elem}
}

// ByRefTo 托管引用类型
func ByRefTo(elem *TypeDesc) *TypeDesc {
	return &TypeDesc{Kind: KindByRef, Elem: elem}
}

// ArrayOf 一维数组类型
func ArrayOf(elem *TypeDesc) *TypeDesc {
	return &TypeDesc{Kind: KindArray, Elem: elem}
}

// ValueType 具名值类型
func ValueType(name string, size int) *TypeDesc {
	return &TypeDesc{Kind: KindValueType, Name: name, Size: size}
}

func (t *TypeDesc) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindPointer:
		return t.Elem.String() + "*"
	case KindByRef:
		return t.Elem.String() + "&"
	case KindArray:
		return t.Elem.String() + "[]"
	case KindValueType:
		return "valuetype " + t.Name
	}
	return t.Kind.String()
}

// ParseType 解析文本类型名: "int32", "float32[]", "int32*", "int32&", "valuetype Name:16"
func ParseType(s string) (*TypeDesc, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, fmt.Errorf("empty type name")
	case strings.HasSuffix(s, "[]"):
		elem, err := ParseType(s[:len(s)-2])
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil
	case strings.HasSuffix(s, "*"):
		elem, err := ParseType(s[:len(s)-1])
		if err != nil {
			return nil, err
		}
		return PointerTo(elem), nil
	case strings.HasSuffix(s, "&"):
		elem, err := ParseType(s[:len(s)-1])
		if err != nil {
			return nil, err
		}
		return ByRefTo(elem), nil
	case strings.HasPrefix(s, "valuetype "):
		var name string
		var size int
		if _, err := fmt.Sscanf(strings.Replace(s[len("valuetype "):], ":", " ", 1), "%s %d", &name, &size); err != nil {
			return nil, fmt.Errorf("bad value type %q: %w", s, err)
		}
		return ValueType(name, size), nil
	}
	if t, ok := primitiveByName[s]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}
