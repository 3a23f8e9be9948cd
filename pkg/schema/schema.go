package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	cache   = make(map[reflect.Type]*Schema)
	cacheMu sync.Mutex
)

// Schema is the function-calling view of a Go argument record.
type Schema struct {
	RawSchema *jsonschema.Schema
	// Parameters represents the Function parameters definition:
	// an object schema with the required set and no extra fields permitted.
	Parameters *jsonschema.Schema
}

// New creates a new schema from the given type.
// Schemas are immutable once built and cached per type.
func New(t reflect.Type) (*Schema, error) {
	if t == nil {
		return nil, errors.New("schema: nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Errorf("schema: %s is not a struct", t.String())
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[t]; ok {
		return s, nil
	}

	raw := JSONSchema(t)
	s := &Schema{
		RawSchema:  raw,
		Parameters: ToFunctionSchema(raw),
	}
	cache[t] = s
	return s, nil
}

// MustNew is like New but panics on error.
// Intended for package level tool definitions.
func MustNew(t reflect.Type) *Schema {
	s, err := New(t)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

// JSON returns the compact parameters document.
func (s *Schema) JSON() []byte {
	js, _ := json.Marshal(s.Parameters)
	return js
}

// ToFunctionSchema strips the reflected schema down to what a
// function-calling model expects: type, properties, required and
// additionalProperties.
func ToFunctionSchema(root *jsonschema.Schema) *jsonschema.Schema {
	res := &jsonschema.Schema{
		Type:                 "object",
		Properties:           root.Properties,
		Required:             root.Required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
	if res.Properties == nil {
		res.Properties = orderedmap.New[string, *jsonschema.Schema]()
	}
	closeObjects(res.Properties)
	return res
}

// closeObjects forbids extra fields on nested objects as well.
func closeObjects(props *orderedmap.OrderedMap[string, *jsonschema.Schema]) {
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		child := pair.Value
		if child.Type == "object" && child.Properties != nil {
			child.AdditionalProperties = jsonschema.FalseSchema
			closeObjects(child.Properties)
		}
		if child.Items != nil && child.Items.Properties != nil {
			child.Items.AdditionalProperties = jsonschema.FalseSchema
			closeObjects(child.Items.Properties)
		}
	}
}

// JSONSchema returns the expanded json schema of the type.
func JSONSchema(t reflect.Type) *jsonschema.Schema {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.AllowAdditionalProperties = false

	// Struct names may collide across packages,
	// the namer adds a hash of the package path.
	r.Namer = func(t reflect.Type) string {
		name := t.Name()
		if t.Kind() == reflect.Struct {
			fullname := t.PkgPath() + "/" + t.Name()
			name = t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(fullname), 10)
		}
		return name
	}

	return r.ReflectFromType(t)
}
