package delivery

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Declare global variables for all your templates.
var (
	signInTemplate    *template.Template
	dashboardTemplate *template.Template
	errorTemplate     *template.Template
)

// ParseAllTemplates pre-parses all HTML templates at startup for efficiency.
func ParseAllTemplates() {
	signInTemplate = template.Must(template.ParseFS(templateFS, "templates/signin.html"))
	dashboardTemplate = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))
	errorTemplate = template.Must(template.ParseFS(templateFS, "templates/error.html"))
}
