// Package configs embeds the configuration template written by
// `nrtindex config init`.
//
// The template documents every key of internal/config.Config with its
// default value. Edit config.example.yaml and rebuild to change it.
package configs

import _ "embed"

// ConfigTemplate is the commented user configuration file.
//
//go:embed config.example.yaml
var ConfigTemplate string
