package tax

import (
	_ "embed"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Defaults parses the rules document compiled into the binary.
func Defaults() ([]*Rules, error) {
	return Parse(defaultRules)
}
