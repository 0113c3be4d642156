// Package web holds the room page served to browser participants.
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var files embed.FS

const RoomTemplate = "room.html"

// Templates parses the embedded page templates.
func Templates() *template.Template {
	return template.Must(template.ParseFS(files, "templates/*.html"))
}
