package types

// ValueKind tags the typed values an entity field can carry.
type ValueKind uint8

const (
	ValueInt64 ValueKind = iota + 1
	ValueUint64
	ValueBool
	ValueString
	ValueBytes
	ValueNull
	ValueRef
)

func (k ValueKind) String() string {
	switch k {
	case ValueInt64:
		return "int64"
	case ValueUint64:
		return "uint64"
	case ValueBool:
		return "bool"
	case ValueString:
		return "string"
	case ValueBytes:
		return "bytes"
	case ValueNull:
		return "null"
	case ValueRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Value is one typed field value. Exactly the member matching Kind is
// meaningful; the rest are zero.
type Value struct {
	Kind ValueKind

	Int64  int64
	Uint64 uint64
	Bool   bool
	String string
	Bytes  []byte

	// Foreign-key reference by (type id, key). Resolved lazily at
	// persistence time, so forward references are allowed.
	RefTypeID uint32
	RefKey    []byte
}

// Field pairs a schema field id with its value.
type Field struct {
	ID    uint16
	Value Value
}

// Entity is one typed record staged by a module during block
// execution: a schema type id, a primary key and the ordered field
// list. Staging order is preserved; if two staged entities share
// (TypeID, Key) within one block, the last write wins at commit.
type Entity struct {
	TypeID uint32
	Key    []byte
	Fields []Field
}

// FieldByID returns the value for the given field id, or a null Value
// if the entity does not carry that field.
func (e *Entity) FieldByID(id uint16) Value {
	for _, f := range e.Fields {
		if f.ID == id {
			return f.Value
		}
	}
	return Value{Kind: ValueNull}
}
