// Package docs ships the published JSON schemas with the binaries.
package docs

import "embed"

// Schemas holds schema/*.schema.json.
//
//go:embed schema/*.json
var Schemas embed.FS
