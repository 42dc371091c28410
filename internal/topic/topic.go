// Package topic implements MQTT topic filter matching and validation
package topic

import (
	"errors"
	"fmt"
	"strings"
)

const (
	separator      = "/"
	singleWildcard = "+"
	multiWildcard  = "#"
)

// ErrInvalidFilter is matched by every *InvalidFilterError
var ErrInvalidFilter = errors.New("topic: invalid filter")

// InvalidFilterError describes a malformed subscription filter
type InvalidFilterError struct {
	Filter string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid topic filter %q: %s", e.Filter, e.Reason)
}

// Is reports whether target is ErrInvalidFilter
func (e *InvalidFilterError) Is(target error) bool {
	return target == ErrInvalidFilter
}

// Matches reports whether topic is covered by filter under MQTT wildcard rules.
// A malformed filter never matches.
func Matches(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	// Wildcards in the first level never match $-prefixed system topics
	if strings.HasPrefix(topic, "$") &&
		(strings.HasPrefix(filter, singleWildcard) || strings.HasPrefix(filter, multiWildcard)) {
		return false
	}

	filterSegments := strings.Split(filter, separator)
	topicSegments := strings.Split(topic, separator)

	for i, segment := range filterSegments {
		switch {
		case segment == multiWildcard:
			return i == len(filterSegments)-1
		case strings.ContainsAny(segment, singleWildcard+multiWildcard) && segment != singleWildcard:
			return false
		case i >= len(topicSegments):
			return false
		case segment == singleWildcard:
			continue
		case segment != topicSegments[i]:
			return false
		}
	}

	return len(filterSegments) == len(topicSegments)
}

// ValidateFilter validates a subscription topic filter
func ValidateFilter(filter string) error {
	if filter == "" {
		return &InvalidFilterError{Filter: filter, Reason: "filter cannot be empty"}
	}

	segments := strings.Split(filter, separator)
	for i, segment := range segments {
		if strings.Contains(segment, multiWildcard) {
			if segment != multiWildcard {
				return &InvalidFilterError{Filter: filter, Reason: "# wildcard must occupy entire segment"}
			}
			if i != len(segments)-1 {
				return &InvalidFilterError{Filter: filter, Reason: "# wildcard must be the last segment"}
			}
		}

		if strings.Contains(segment, singleWildcard) && segment != singleWildcard {
			return &InvalidFilterError{Filter: filter, Reason: "+ wildcard must occupy entire segment"}
		}
	}

	return nil
}

// ValidateName validates a publish topic name
func ValidateName(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if HasWildcard(topic) {
		return fmt.Errorf("wildcards not allowed in topic name %q", topic)
	}

	return nil
}

// HasWildcard reports whether filter contains a + or # character
func HasWildcard(filter string) bool {
	return strings.ContainsAny(filter, singleWildcard+multiWildcard)
}
