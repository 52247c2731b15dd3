package thread

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Order is the scan direction of Query.
type Order int

const (
	// Desc scans from the most recently appended stitch backward.
	Desc Order = iota
	// Asc scans from the oldest stitch forward.
	Asc
)

func (o Order) String() string {
	if o == Asc {
		return "ASC"
	}
	return "DESC"
}

// Predicate is a plain yes/no test on a stitch. Narrowing the output to a
// concrete shape is done separately at the call site (see ContentOf).
type Predicate func(Stitch) bool

// Query returns the first stitch matching pred when scanning history in
// order, with an implicit limit of one. A nil pred matches every stitch. The
// boolean is false when history is empty or nothing matches.
func Query(history []Stitch, pred Predicate, order Order) (Stitch, bool) {
	match := func(s Stitch) bool { return pred == nil || pred(s) }
	if order == Asc {
		for _, s := range history {
			if match(s) {
				return s, true
			}
		}
		return Stitch{}, false
	}
	for i := len(history) - 1; i >= 0; i-- {
		if match(history[i]) {
			return history[i], true
		}
	}
	return Stitch{}, false
}

// OutputHasContent matches stitches whose output carries a string "content" field.
func OutputHasContent(s Stitch) bool {
	_, ok := ContentOf(s.Output)
	return ok
}

// FromSlug matches stitches produced by the step with the given slug.
func FromSlug(slug string) Predicate {
	return func(s Stitch) bool { return s.Slug == slug }
}

// OfForm matches stitches produced by steps of the given form.
func OfForm(f Form) Predicate {
	return func(s Stitch) bool { return s.Form == f }
}

// All combines predicates; every one must match.
func All(preds ...Predicate) Predicate {
	return func(s Stitch) bool {
		for _, p := range preds {
			if p != nil && !p(s) {
				return false
			}
		}
		return true
	}
}

// Contenter is implemented by step outputs that carry generated content.
type Contenter interface {
	ContentValue() string
}

// ContentOf extracts the string "content" field of a step output.
func ContentOf(output any) (string, bool) {
	if c, ok := output.(Contenter); ok {
		return c.ContentValue(), true
	}
	return StringField(output, "content")
}

// StringField extracts a top-level string field from a map or a
// JSON-serializable struct.
func StringField(v any, key string) (string, bool) {
	switch m := v.(type) {
	case nil:
		return "", false
	case map[string]any:
		s, ok := m[key].(string)
		return s, ok
	case map[string]string:
		s, ok := m[key]
		return s, ok
	}
	doc, err := toJSONValue(v)
	if err != nil {
		return "", false
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// OutputMatchesSchema compiles a JSON Schema and returns a predicate matching
// stitches whose output validates against it.
func OutputMatchesSchema(schemaJSON string) (Predicate, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("output.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return func(s Stitch) bool {
		v, err := toJSONValue(s.Output)
		if err != nil {
			return false
		}
		return schema.Validate(v) == nil
	}, nil
}

// toJSONValue converts an arbitrary output into the generic JSON form the
// schema validator expects (json.Number for numbers).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
