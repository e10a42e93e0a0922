package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists every valid key, sorted so ties in edit distance resolve
// deterministically.
var knownKeys = func() []string {
	keys := []string{
		"app_key", "app_secret",
		"root", "locale", "api_host", "content_host", "notify_host", "web_host", "api_version",
		"chunk_size", "parallel_uploads", "max_step_retries",
		"path_prefix", "longpoll_timeout", "default_backoff", "state_dir",
		"log_level", "log_format",
		"connect_timeout", "data_timeout", "user_agent", "trusted_certs",
	}
	slices.Sort(keys)

	return keys
}()

// checkUnknownKeys turns undecoded TOML keys into errors, each with a
// suggestion when a known key is close enough.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		// Tables report each nested key; name the table once.
		top, _, _ := strings.Cut(key.String(), ".")
		if seen[top] {
			continue
		}

		seen[top] = true

		if suggestion := closestMatch(top, knownKeys); suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q (did you mean %q?)", top, suggestion))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", top))
		}
	}

	return errors.Join(errs...)
}

// closestMatch returns the known key nearest to unknown, or "" when none is
// within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between a and b using two rows.
func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
