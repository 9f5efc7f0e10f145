package inventory

import (
	"strings"

	"github.com/dock-tor/dock-tor/pkg/config"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// Excluded reports whether a container with the given labels must be skipped.
// The built-in docktor.ignore=true label and the configured rule are checked
// independently; either one excludes the container. Label values are
// lower-cased before comparison, the configured value is used as given.
func Excluded(labels map[string]string, rule config.Label) bool {
	if strings.EqualFold(labels[types.LabelIgnore], "true") {
		return true
	}
	if rule.Key == "" {
		return false
	}
	v, ok := labels[rule.Key]
	return ok && strings.ToLower(v) == rule.Value
}
