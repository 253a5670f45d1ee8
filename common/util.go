package common

import (
	"github.com/apex/log"
)

// Component base structure for a Component
type Component struct {
	LogTags log.Fields
}

// CopyLogTags helper function to get a copy of a component's log tags, which can then be
// extended without changing the component's own tags
func (c Component) CopyLogTags() log.Fields {
	result := log.Fields{}
	for k, v := range c.LogTags {
		result[k] = v
	}
	return result
}
