package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var typeOfStrings = reflect.TypeOf([]string(nil))

// fieldPath maps a dotted path of JSON keys ("formSpec.title") onto the Go
// field path of t ("FormSpec.Title") and returns the type of the leaf.
// Go field names are accepted as well.
func fieldPath(t reflect.Type, path string) (string, reflect.Type, error) {
	parts := strings.Split(path, ".")
	goPath := make([]string, 0, len(parts))
	cur := t
	for _, part := range parts {
		for cur.Kind() == reflect.Pointer {
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return "", nil, fmt.Errorf("%s: %s is not a struct", path, cur)
		}
		f, ok := lookupField(cur, part)
		if !ok {
			return "", nil, fmt.Errorf("%s: unknown field %q", path, part)
		}
		goPath = append(goPath, f.Name)
		cur = f.Type
	}
	return strings.Join(goPath, "."), cur, nil
}

func lookupField(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name || f.Name == name {
			return f, true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.IsExported() && strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// coerce converts v into a value of type t by a JSON round trip, so that
// decoded payloads (float64 numbers, []any lists, map objects) fit typed
// fields.
func coerce(v any, t reflect.Type) (any, error) {
	if v != nil && reflect.TypeOf(v) == t {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("cannot use %s as %s", raw, t)
	}
	return ptr.Elem().Interface(), nil
}

// stageFieldChanges resolves JSON-keyed changes into typed Go field paths
// for store.UpdateFields.
func stageFieldChanges(changes map[string]any) (map[string]any, error) {
	t := reflect.TypeOf(Stage{})
	out := make(map[string]any, len(changes))
	for key, v := range changes {
		path, typ, err := fieldPath(t, key)
		if err != nil {
			return nil, err
		}
		if path == "ID" {
			return nil, fmt.Errorf("the stage id cannot be changed")
		}
		typed, err := coerce(v, typ)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[path] = typed
	}
	return out, nil
}
