package messaging

import "strings"

// MatchRoutingKey reports whether key matches a topic pattern. Words are
// separated by dots; "*" matches exactly one word and "#" zero or more.
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case "#":
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchWords(p[1:], k[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(k) == 0 {
				return false
			}
		default:
			if len(k) == 0 || p[0] != k[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}

// MatchAny reports whether key matches at least one of patterns.
func MatchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if MatchRoutingKey(p, key) {
			return true
		}
	}
	return false
}
