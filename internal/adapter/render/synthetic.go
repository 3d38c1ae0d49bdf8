package render

import _ "embed"

// errorPagePNG is the deterministic page image substituted when a document
// or an individual page cannot be rendered.
//
//go:embed assets/error_page.png
var errorPagePNG []byte

// ErrorPage returns a copy of the synthetic error page image so callers
// cannot mutate the embedded asset.
func ErrorPage() []byte {
	out := make([]byte, len(errorPagePNG))
	copy(out, errorPagePNG)
	return out
}
