package catalog

import "embed"

// defaultFS embeds the built-in variable list shipped with the bridge. A
// deployment may replace it entirely at startup via LoadFromFile, since the
// real 361-variable simulator catalog is an external, opaque data source.
//
//go:embed data/variables.json
var defaultFS embed.FS

const defaultVariablesPath = "data/variables.json"
