// Package vault holds the snippet and folder records of the snippet manager
// together with the in-memory search used by the presentation layer.
package vault

import (
	"fmt"
	"strings"
	"time"
)

// Tag is a coloured label attached to a snippet
type Tag struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Folder groups snippets
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snippet is a stored piece of code.
// FolderID is empty for unfiled snippets.
type Snippet struct {
	ID          string    `json:"id"`
	FolderID    string    `json:"folder_id,omitempty"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Language    string    `json:"language"`
	Description string    `json:"description,omitempty"`
	Tags        []Tag     `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasTag reports whether the snippet carries a tag with the given name
func (s Snippet) HasTag(name string) bool {
	for _, t := range s.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Language is an entry of the language catalogue
type Language struct {
	Value string
	Label string
	Icon  string
}

// Languages lists the languages a snippet may be written in
var Languages = []Language{
	{Value: "javascript", Label: "JavaScript", Icon: "JS"},
	{Value: "typescript", Label: "TypeScript", Icon: "TS"},
	{Value: "python", Label: "Python", Icon: "PY"},
	{Value: "html", Label: "HTML", Icon: "HTML"},
	{Value: "css", Label: "CSS", Icon: "CSS"},
	{Value: "java", Label: "Java", Icon: "JAVA"},
	{Value: "c", Label: "C", Icon: "C"},
	{Value: "cpp", Label: "C++", Icon: "C++"},
	{Value: "markdown", Label: "Markdown", Icon: "MD"},
	{Value: "sql", Label: "SQL", Icon: "SQL"},
	{Value: "bash", Label: "Bash", Icon: "SH"},
	{Value: "json", Label: "JSON", Icon: "JSON"},
}

// LookupLanguage finds a catalogue entry by value
func LookupLanguage(value string) (Language, bool) {
	for _, l := range Languages {
		if l.Value == value {
			return l, true
		}
	}
	return Language{}, false
}

// FolderColors is the palette offered for folders
var FolderColors = []string{
	"#f5a623", "#ef4444", "#10b981", "#3b82f6", "#8b5cf6",
	"#ec4899", "#14b8a6", "#f97316", "#6366f1", "#84cc16",
}

// TagColors is the palette offered for tags
var TagColors = append(append([]string{}, FolderColors...),
	"#fbbf24", "#a78bfa", "#34d399", "#60a5fa", "#f472b6",
)

// Validate checks the fields a snippet must have before it is stored
func (s Snippet) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("snippet name is required")
	}
	if _, ok := LookupLanguage(s.Language); !ok {
		return fmt.Errorf("unknown language: %s", s.Language)
	}
	for _, t := range s.Tags {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tag name is required")
		}
	}
	return nil
}

// Validate checks the fields a folder must have before it is stored
func (f Folder) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("folder name is required")
	}
	return nil
}
