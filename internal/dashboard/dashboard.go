// Package dashboard embeds the verifier's minimal operator-facing HTML
// page, served at GET / and GET /ui (spec.md §6). Its design is explicitly
// out of scope; this exists only so the documented routes return
// something functional.
package dashboard

import "embed"

//go:embed static/index.html
var files embed.FS

// Page returns the dashboard's HTML document.
func Page() []byte {
	b, err := files.ReadFile("static/index.html")
	if err != nil {
		// Embedded at build time; a read failure here means the embed
		// directive itself is broken, which build would already catch.
		panic(err)
	}
	return b
}
