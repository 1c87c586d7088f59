package sources

import "strings"

// DisasterVocabulary is scanned in this order by ExtractDisasterKeywords.
var DisasterVocabulary = []string{
	"disaster",
	"earthquake",
	"flood",
	"hurricane",
	"wildfire",
	"emergency",
	"evacuation",
	"warning",
	"alert",
	"damage",
	"rescue",
	"relief",
}

// ExtractDisasterKeywords returns the vocabulary terms contained in text,
// case-insensitively, in vocabulary order. The result is never nil.
func ExtractDisasterKeywords(text string) []string {
	lower := strings.ToLower(text)
	found := make([]string, 0, 4)
	for _, keyword := range DisasterVocabulary {
		if strings.Contains(lower, keyword) {
			found = append(found, keyword)
		}
	}
	return found
}
