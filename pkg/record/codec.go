package record

import (
	"fmt"
	"time"
)

// EncodeSubject converts a subject record to its document form. DetailRefs is
// the persisted linkage; loaded details are never embedded.
func EncodeSubject(s *Subject) Document {
	refs := make([]any, len(s.DetailRefs))
	for i, ref := range s.DetailRefs {
		refs[i] = ref
	}
	doc := Document{
		FieldActive:       s.Active,
		FieldCreationTime: encodeTime(s.CreationTime),
		FieldLastUpdate:   encodeTime(s.LastUpdate),
		FieldDetailRefs:   refs,
	}
	if s.ID != "" {
		doc[FieldID] = s.ID
	}
	return doc
}

// DecodeSubject converts a stored document back into a subject record.
// Details is left empty; hydration is the coordinator's concern.
func DecodeSubject(doc Document) (*Subject, error) {
	s := &Subject{}
	var err error
	if s.ID, err = docString(doc, FieldID); err != nil {
		return nil, err
	}
	if s.Active, err = docBool(doc, FieldActive); err != nil {
		return nil, err
	}
	if s.CreationTime, err = docTime(doc, FieldCreationTime); err != nil {
		return nil, err
	}
	if s.LastUpdate, err = docTime(doc, FieldLastUpdate); err != nil {
		return nil, err
	}
	if s.DetailRefs, err = docStringList(doc, FieldDetailRefs); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeDetail converts a detail record to its document form.
func EncodeDetail(d *Detail) Document {
	doc := Document{
		FieldActive:       d.Active,
		FieldVersion:      d.Version,
		FieldCreationTime: encodeTime(d.CreationTime),
		FieldLastUpdate:   encodeTime(d.LastUpdate),
		FieldPayload:      d.Payload,
	}
	if d.ID != "" {
		doc[FieldID] = d.ID
	}
	if d.SubjectID != "" {
		doc[FieldSubjectID] = d.SubjectID
	}
	return doc
}

// DecodeDetail converts a stored document back into a detail record. When
// hydrate is false only identity and lifecycle metadata are decoded and the
// payload is skipped, yielding a reference-only record.
func DecodeDetail(doc Document, hydrate bool) (*Detail, error) {
	d := &Detail{}
	var err error
	if d.ID, err = docString(doc, FieldID); err != nil {
		return nil, err
	}
	if d.SubjectID, err = docString(doc, FieldSubjectID); err != nil {
		return nil, err
	}
	if d.Active, err = docBool(doc, FieldActive); err != nil {
		return nil, err
	}
	if d.Version, err = docInt64(doc, FieldVersion); err != nil {
		return nil, err
	}
	if d.CreationTime, err = docTime(doc, FieldCreationTime); err != nil {
		return nil, err
	}
	if d.LastUpdate, err = docTime(doc, FieldLastUpdate); err != nil {
		return nil, err
	}
	if hydrate {
		if d.Payload, err = docMap(doc, FieldPayload); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func encodeTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// DecodeTime parses a timestamp value carried in a document field.
func DecodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("decode timestamp %q: %w", t, err)
		}
		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("decode timestamp: unexpected type %T", v)
	}
}

func docString(doc Document, field string) (string, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("decode %s: unexpected type %T", field, v)
	}
	return s, nil
}

func docBool(doc Document, field string) (bool, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("decode %s: unexpected type %T", field, v)
	}
	return b, nil
}

func docInt64(doc Document, field string) (int64, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("decode %s: unexpected type %T", field, v)
	}
}

func docTime(doc Document, field string) (time.Time, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	ts, err := DecodeTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", field, err)
	}
	return ts, nil
}

func docStringList(doc Document, field string) ([]string, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			s, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("decode %s: unexpected element type %T", field, el)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode %s: unexpected type %T", field, v)
	}
}

func docMap(doc Document, field string) (map[string]any, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected type %T", field, v)
	}
	return m, nil
}
