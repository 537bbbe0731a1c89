// Package console holds the operator console's embedded assets: the static
// files served under /static and the HTML templates rendered by the
// interactive handlers.
//
// Everything is compiled into the binary with go:embed. A directory can be
// supplied at startup to serve static files from disk instead, which is
// handy while editing the stylesheet.
package console
