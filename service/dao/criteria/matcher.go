package criteria

import (
	"github.com/viant/hitl/service/dao"
)

// Matches reports whether the supplied attribute set satisfies every
// parameter. A parameter value may be a single string or a string slice
// (any-of semantics). Parameters naming an unknown attribute are ignored so
// stores stay forward compatible with new filters.
func Matches(attributes map[string]string, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		actual, ok := attributes[parameter.Name]
		if !ok {
			continue
		}
		if !matchesValue(actual, parameter.Value) {
			return false
		}
	}
	return true
}

// FilterByState is a convenience wrapper for stores that only filter on a
// "State" parameter.
func FilterByState(state string, parameters []*dao.Parameter) bool {
	return Matches(map[string]string{"State": state}, parameters)
}

func matchesValue(actual string, expected interface{}) bool {
	switch value := expected.(type) {
	case string:
		return actual == value
	case []string:
		for _, candidate := range value {
			if actual == candidate {
				return true
			}
		}
		return false
	}
	return true
}
