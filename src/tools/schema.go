package tools

// JsonSchema is a recursive JSON-Schema node covering the subset of
// keywords UTCP manuals use. The $schema and $id keywords keep their
// dollar-prefixed spelling on the wire.
type JsonSchema struct {
	Schema      string                 `json:"$schema,omitempty"`
	ID          string                 `json:"$id,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Properties  map[string]*JsonSchema `json:"properties,omitempty"`
	Items       *JsonSchema            `json:"items,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Description string                 `json:"description,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// NewObjectSchema returns an empty object schema.
func NewObjectSchema() *JsonSchema {
	return &JsonSchema{Type: "object", Properties: map[string]*JsonSchema{}}
}
