// Package templates renders the localized denial and guidance messages the
// gate returns to callers. Messages live in embedded JSON bundles keyed by
// "section.name"; the English bundle is the base and other languages overlay
// it, so a missing translation falls back to English instead of failing.
package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed data/*.json
var files embed.FS

// Renderer renders localized messages by key.
type Renderer interface {
	// Render returns a localized message by key.
	Render(key string, data any) (string, error)
}

// Bundle holds parsed templates for a selected language.
type Bundle struct {
	lang      string
	templates map[string]*template.Template
}

// Load builds the message bundle for lang. Unknown languages fall back to
// English entirely.
func Load(lang string) (*Bundle, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang != "ru" {
		lang = "en"
	}

	messages, err := readMessages("en")
	if err != nil {
		return nil, err
	}
	if lang != "en" {
		overlay, err := readMessages(lang)
		if err != nil {
			return nil, err
		}
		for key, value := range overlay {
			messages[key] = value
		}
	}

	parsed := make(map[string]*template.Template, len(messages))
	for key, value := range messages {
		tmpl, err := template.New(key).Parse(value)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", key, err)
		}
		parsed[key] = tmpl
	}
	return &Bundle{lang: lang, templates: parsed}, nil
}

// Lang returns the language the bundle resolved to.
func (b *Bundle) Lang() string {
	return b.lang
}

// Render renders a message by key with the supplied data.
func (b *Bundle) Render(key string, data any) (string, error) {
	if b == nil {
		return "", fmt.Errorf("templates bundle is nil")
	}
	tmpl, ok := b.templates[key]
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", key, err)
	}
	return out.String(), nil
}

func readMessages(lang string) (map[string]string, error) {
	raw, err := files.ReadFile(fmt.Sprintf("data/%s.json", lang))
	if err != nil {
		return nil, fmt.Errorf("read %s templates: %w", lang, err)
	}
	var messages map[string]string
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("parse %s templates: %w", lang, err)
	}
	return messages, nil
}
