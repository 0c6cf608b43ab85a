// Package config embeds the default configuration files shipped with the server.
package config

import _ "embed"

// Taxonomy is the default routing taxonomy, used unless TAXONOMY_FILE is set.
//
//go:embed taxonomy.yaml
var Taxonomy []byte
