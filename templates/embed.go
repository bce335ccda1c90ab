// Package templates embeds the default configuration file written by
// `invoq init`.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
