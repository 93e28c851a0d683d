package schema

import (
	"strings"
	"unicode"

	"github.com/iancoleman/strcase"
	jsoniter "github.com/json-iterator/go"
)

// EnumStorage is how enum members are written to JSON.
type EnumStorage int

const (
	// AsInteger stores the underlying integer.
	AsInteger EnumStorage = iota
	// AsString stores the enum's String() name.
	AsString
)

func (e EnumStorage) String() string {
	if e == AsString {
		return "string"
	}
	return "integer"
}

// Casing is how Go field names without a json tag become JSON keys.
type Casing int

const (
	AsIs Casing = iota
	CamelCase
	SnakeCase
)

func (c Casing) String() string {
	switch c {
	case CamelCase:
		return "camel"
	case SnakeCase:
		return "snake"
	default:
		return "as-is"
	}
}

// ParseCasing maps a configuration value to a Casing.
func ParseCasing(s string) (Casing, bool) {
	switch strings.ToLower(s) {
	case "", "as-is", "asis", "default":
		return AsIs, true
	case "camel", "camelcase":
		return CamelCase, true
	case "snake", "snakecase", "snake_case":
		return SnakeCase, true
	}
	return AsIs, false
}

// ParseEnumStorage maps a configuration value to an EnumStorage.
func ParseEnumStorage(s string) (EnumStorage, bool) {
	switch strings.ToLower(s) {
	case "", "integer", "int":
		return AsInteger, true
	case "string":
		return AsString, true
	}
	return AsInteger, false
}

// Conventions are the serializer settings the locator resolver must agree
// with.
type Conventions struct {
	EnumStorage EnumStorage
	Casing      Casing
}

// JSONName converts a Go field name to its JSON key.
func (c Conventions) JSONName(goName string) string {
	switch c.Casing {
	case CamelCase:
		return strcase.ToLowerCamel(goName)
	case SnakeCase:
		return strcase.ToSnake(goName)
	default:
		return goName
	}
}

// Serializer turns documents and query constants into JSON.
type Serializer interface {
	Conventions() Conventions
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer, built on json-iterator in its
// encoding/json compatible configuration. Casing applies to fields without an
// explicit json name. Enums stored AsString are expected to implement
// encoding.TextMarshaler.
type JSONSerializer struct {
	conv Conventions
	api  jsoniter.API
}

var _ Serializer = (*JSONSerializer)(nil)

// NewSerializer creates a JSONSerializer for the given conventions.
func NewSerializer(conv Conventions) *JSONSerializer {
	api := jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()
	if conv.Casing != AsIs {
		api.RegisterExtension(&casingExtension{conv: conv})
	}
	return &JSONSerializer{conv: conv, api: api}
}

func (s *JSONSerializer) Conventions() Conventions {
	return s.conv
}

func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	return s.api.Marshal(v)
}

func (s *JSONSerializer) Unmarshal(data []byte, v any) error {
	return s.api.Unmarshal(data, v)
}

// casingExtension renames untagged exported fields.
type casingExtension struct {
	jsoniter.DummyExtension
	conv Conventions
}

func (e *casingExtension) UpdateStructDescriptor(desc *jsoniter.StructDescriptor) {
	for _, binding := range desc.Fields {
		name := binding.Field.Name()
		if unicode.IsLower(rune(name[0])) || name[0] == '_' {
			continue
		}
		if tag, ok := binding.Field.Tag().Lookup("json"); ok {
			if head, _, _ := strings.Cut(tag, ","); head != "" {
				continue
			}
		}
		binding.ToNames = []string{e.conv.JSONName(name)}
		binding.FromNames = []string{e.conv.JSONName(name)}
	}
}
