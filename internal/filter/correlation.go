package filter

import "strings"

// CorrelationFilter is equivalent to the conjunction of equality checks
// on the specified system and user properties; an unspecified field
// means "do not constrain that field" (spec §4.1). Implemented directly
// rather than via the SQL AST, but observing the same null/case/type
// rules as the evaluator.
type CorrelationFilter struct {
	CorrelationID *string
	Label         *string
	MessageID     *string
	To            *string
	ReplyTo       *string
	SessionID     *string
	UserProperties map[string]interface{}
}

// Matches reports whether props satisfies every constrained field.
func (f *CorrelationFilter) Matches(props PropertyMap) bool {
	if f.CorrelationID != nil && !propertyEquals(props, "correlation_id", *f.CorrelationID) {
		return false
	}
	if f.Label != nil && !propertyEquals(props, "label", *f.Label) {
		return false
	}
	if f.MessageID != nil && !propertyEquals(props, "message_id", *f.MessageID) {
		return false
	}
	if f.To != nil && !propertyEquals(props, "to", *f.To) {
		return false
	}
	if f.ReplyTo != nil && !propertyEquals(props, "reply_to", *f.ReplyTo) {
		return false
	}
	if f.SessionID != nil && !propertyEquals(props, "session_id", *f.SessionID) {
		return false
	}
	for k, want := range f.UserProperties {
		got, ok := lookupCaseInsensitive(props, k)
		if !ok || !compareEq(got, want) {
			return false
		}
	}
	return true
}

func propertyEquals(props PropertyMap, key, want string) bool {
	got, ok := lookupCaseInsensitive(props, key)
	if !ok {
		return false
	}
	s, ok := got.(string)
	if !ok {
		return false
	}
	return strings.EqualFold(s, want)
}

func lookupCaseInsensitive(props PropertyMap, key string) (interface{}, bool) {
	if v, ok := props[key]; ok {
		return v, true
	}
	lower := strings.ToLower(key)
	for k, v := range props {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// IsEmpty reports whether the filter constrains nothing (matches all).
func (f *CorrelationFilter) IsEmpty() bool {
	return f.CorrelationID == nil && f.Label == nil && f.MessageID == nil &&
		f.To == nil && f.ReplyTo == nil && f.SessionID == nil && len(f.UserProperties) == 0
}
