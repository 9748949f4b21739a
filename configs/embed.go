// Package configs provides the embedded configuration template for
// indexkeeper. The template is embedded at build time so `indexkeeper
// config init` can write a commented starting point regardless of how the
// binary was installed.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `indexkeeper config init`.
//
//go:embed indexkeeper.example.yaml
var ConfigTemplate string
