// Package policies embeds the OPA authorization policies.
package policies

import "embed"

//go:embed authz.rego
var FS embed.FS
