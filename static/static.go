// Package static embeds the admin UI's HTML and favicon assets so the
// binary serves them without a runtime filesystem dependency.
package static

import "embed"

//go:embed admin.html admin-favicon.svg
var FS embed.FS
