package domain

// UnseenCategoryCode is assigned to categorical values absent from the
// vocabulary the model was trained with.
const UnseenCategoryCode = -1

// Vocabulary maps each categorical column to its value→code table. Codes
// are assigned once at train time and applied unchanged at inference so
// the same category value never drifts between batches.
type Vocabulary map[string]map[string]int

// Categorical column names used as Vocabulary keys.
const (
	VocabEventType = "event_type"
	VocabCountry   = "country"
	VocabChannel   = "channel"
	VocabRole      = "role"
)

// Code returns the code for value in column, or UnseenCategoryCode.
func (v Vocabulary) Code(column, value string) int {
	if m, ok := v[column]; ok {
		if code, ok := m[value]; ok {
			return code
		}
	}
	return UnseenCategoryCode
}

// ModelSchema is the feature schema persisted with a trained model: the
// ordered feature-column names and the categorical vocabulary they were
// encoded with.
type ModelSchema struct {
	Columns    []string   `json:"columns"`
	Vocabulary Vocabulary `json:"vocabulary"`
}

// ColumnsEqual reports whether cols matches the stored columns exactly,
// in order and membership.
func (s *ModelSchema) ColumnsEqual(cols []string) bool {
	if len(s.Columns) != len(cols) {
		return false
	}
	for i := range cols {
		if s.Columns[i] != cols[i] {
			return false
		}
	}
	return true
}
