package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// StringField returns a string-valued metadata field, or "" when absent
// or not a string.
func (m Metadata) StringField(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
