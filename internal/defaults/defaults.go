// Package defaults provides the embedded starter configuration written
// by the hubd init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
