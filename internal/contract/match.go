package contract

import "strings"

// TopicMatches reports whether topic matches pattern.
//
// The pattern language:
//   - "*" matches any topic.
//   - An exact string matches itself.
//   - A pattern ending in ".*" matches the bare prefix or any topic
//     starting with prefix+"." ("a.b.*" matches "a.b" and "a.b.c").
//   - A pattern ending in "*" (no dot) matches any topic starting with
//     the prefix ("a.b*" matches "a.bc").
//   - Anything else does not match.
func TopicMatches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return topic == prefix || strings.HasPrefix(topic, prefix+".")
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return false
}
