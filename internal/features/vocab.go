package features

import (
	"sort"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// BuildVocabulary derives the categorical value→code tables from a
// training batch. Codes are assigned by sorted value order so that the
// same batch always yields the same vocabulary. The result is persisted
// in the model schema and applied unchanged at inference; values not in
// the vocabulary map to domain.UnseenCategoryCode.
func BuildVocabulary(events []*domain.Event) domain.Vocabulary {
	eventTypes := map[string]bool{}
	countries := map[string]bool{}
	channels := map[string]bool{}
	roles := map[string]bool{}

	for _, e := range events {
		eventTypes[string(e.EventType)] = true
		countries[e.Country] = true
		channels[string(e.Channel)] = true
		roles[e.Role] = true
	}

	return domain.Vocabulary{
		domain.VocabEventType: codesFor(eventTypes),
		domain.VocabCountry:   codesFor(countries),
		domain.VocabChannel:   codesFor(channels),
		domain.VocabRole:      codesFor(roles),
	}
}

func codesFor(values map[string]bool) map[string]int {
	sorted := make([]string, 0, len(values))
	for v := range values {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	codes := make(map[string]int, len(sorted))
	for i, v := range sorted {
		codes[v] = i
	}
	return codes
}
