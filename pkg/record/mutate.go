package record

import "reflect"

// ApplyField mirrors a persisted field write onto the in-memory detail so the
// instance reflects the store immediately after the driver call returns.
// Unreserved fields address the opaque payload.
func (d *Detail) ApplyField(field string, value any) {
	switch field {
	case FieldActive:
		if b, ok := value.(bool); ok {
			d.Active = b
		}
	case FieldSubjectID:
		if s, ok := value.(string); ok {
			d.SubjectID = s
		}
	default:
		if d.Payload == nil {
			d.Payload = make(map[string]any)
		}
		d.Payload[field] = value
	}
}

// ApplyListAppend mirrors a persisted list append onto the in-memory payload.
func (d *Detail) ApplyListAppend(field string, elements ...any) {
	if d.Payload == nil {
		d.Payload = make(map[string]any)
	}
	list, _ := d.Payload[field].([]any)
	d.Payload[field] = append(list, elements...)
}

// ApplyListRemove mirrors a persisted list removal onto the in-memory
// payload, dropping the first matching element.
func (d *Detail) ApplyListRemove(field string, element any) {
	list, _ := d.Payload[field].([]any)
	for i, el := range list {
		if reflect.DeepEqual(el, element) {
			d.Payload[field] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}
