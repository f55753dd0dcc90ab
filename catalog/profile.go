package catalog

// ScalarType is the inferred storage type of a field.
type ScalarType int

const (
	TypeText ScalarType = iota
	TypeInteger
	TypeReal
	TypeBoolean
	TypeDate
)

func (t ScalarType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeReal:
		return "real"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	default:
		return "text"
	}
}

// FieldProfile is the frozen inference result for one source field.
type FieldProfile struct {
	Name        string
	Index       int // position in the source header
	Type        ScalarType
	Multivalued bool
	Nullable    bool
	Samples     int // non-empty values the type decision was based on
}
