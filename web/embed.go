// Package web bundles the HTML pages served at / and /api/docs.
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Endpoint describes one route on the landing and documentation pages.
type Endpoint struct {
	Method      string
	Path        string
	Description string
}

// PageData is the model both pages render.
type PageData struct {
	Title          string
	Endpoints      []Endpoint
	MaxUploadSize  string
	TransferDriver string
}

// Templates parses the bundled page templates.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFiles, "templates/*.html")
}

