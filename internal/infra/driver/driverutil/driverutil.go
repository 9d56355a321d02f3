// Package driverutil holds the document mutation semantics shared by every
// driver implementation: field resolution, list edits, and the revision
// stamp applied on each mutating write.
package driverutil

import (
	"fmt"
	"reflect"
	"time"

	"recordcore/pkg/record"
)

var reservedFields = map[string]bool{
	record.FieldID:           true,
	record.FieldActive:       true,
	record.FieldCreationTime: true,
	record.FieldLastUpdate:   true,
	record.FieldVersion:      true,
	record.FieldSubjectID:    true,
	record.FieldDetailRefs:   true,
	record.FieldPayload:      true,
}

// SetField writes a field on a document. Reserved fields live at the top
// level; everything else addresses the opaque payload subdocument.
func SetField(doc record.Document, field string, value any) {
	if reservedFields[field] {
		doc[field] = value
		return
	}
	payload, _ := doc[record.FieldPayload].(map[string]any)
	if payload == nil {
		payload = make(map[string]any)
		doc[record.FieldPayload] = payload
	}
	payload[field] = value
}

func getList(doc record.Document, field string) []any {
	var v any
	if reservedFields[field] {
		v = doc[field]
	} else if payload, ok := doc[record.FieldPayload].(map[string]any); ok {
		v = payload[field]
	}
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, el := range list {
			out[i] = el
		}
		return out
	default:
		return nil
	}
}

// AppendList appends elements to a stored list field, creating it if absent.
func AppendList(doc record.Document, field string, elements ...any) {
	list := getList(doc, field)
	SetField(doc, field, append(list, elements...))
}

// RemoveFromList removes the first element equal to the given one. A miss
// surfaces record.ErrNotInList rather than silently succeeding.
func RemoveFromList(doc record.Document, field string, element any) error {
	list := getList(doc, field)
	for i, el := range list {
		if Equal(el, element) {
			SetField(doc, field, append(list[:i:i], list[i+1:]...))
			return nil
		}
	}
	return fmt.Errorf("remove %v from %s: %w", element, field, record.ErrNotInList)
}

// Stamp applies the revision stamp of a mutating write: tsField is set to a
// timestamp strictly after the previous one and the version counter, when the
// document carries one, is bumped. The new timestamp is returned as the sole
// evidence of the bump.
func Stamp(doc record.Document, tsField string) time.Time {
	now := time.Now().UTC()
	if prev, err := record.DecodeTime(doc[tsField]); err == nil && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	doc[tsField] = now.Format(time.RFC3339Nano)
	if v, ok := doc[record.FieldVersion]; ok {
		switch n := v.(type) {
		case int64:
			doc[record.FieldVersion] = n + 1
		case int:
			doc[record.FieldVersion] = int64(n) + 1
		case float64:
			doc[record.FieldVersion] = n + 1
		}
	}
	return now
}

// Clone deep-copies a document so callers never alias stored state.
func Clone(doc record.Document) record.Document {
	return cloneValue(map[string]any(doc)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = cloneValue(el)
		}
		return out
	case record.Document:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = cloneValue(el)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = el
		}
		return out
	default:
		return v
	}
}

// Equal compares two document values, tolerating the int/float widening a
// JSON round trip introduces.
func Equal(a, b any) bool {
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
