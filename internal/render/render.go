// Package render pre-processes gate configuration files as Go templates
// before YAML parsing, so deployments can inject environment-specific values
// (backend URLs, tokens, listen addresses) without editing the file.
package render

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
)

// envUsage records which environment variables a template referenced and
// which of them were absent. Absent variables fail the render as a whole so
// a half-substituted config never reaches the YAML parser.
type envUsage struct {
	missing map[string]struct{}
}

func (u *envUsage) miss(key string) {
	if u.missing == nil {
		u.missing = map[string]struct{}{}
	}
	u.missing[key] = struct{}{}
}

func (u *envUsage) report() error {
	if len(u.missing) == 0 {
		return nil
	}
	keys := make([]string, 0, len(u.missing))
	for key := range u.missing {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return fmt.Errorf("missing env vars: %s", strings.Join(keys, ", "))
}

// RenderFile reads and renders a configuration template from disk.
func RenderFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return RenderBytes(path, raw)
}

// RenderBytes renders raw configuration bytes. name is used in template
// error positions only.
func RenderBytes(name string, raw []byte) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		name = "config"
	}

	usage := &envUsage{}
	tmpl, err := template.New(name).Funcs(funcs(usage)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	var buf bytes.Buffer
	execErr := tmpl.Execute(&buf, nil)
	if err := usage.report(); err != nil {
		return nil, err
	}
	if execErr != nil {
		return nil, fmt.Errorf("render config template: %w", execErr)
	}
	return buf.Bytes(), nil
}

// funcs returns the template helpers available in configuration files.
func funcs(usage *envUsage) template.FuncMap {
	return template.FuncMap{
		"env": func(key string) string {
			value, ok := os.LookupEnv(key)
			if !ok {
				usage.miss(key)
			}
			return value
		},
		"envOr": func(key, fallback string) string {
			if value, ok := os.LookupEnv(key); ok {
				return value
			}
			return fallback
		},
		"default": func(fallback, value string) string {
			if value == "" {
				return fallback
			}
			return value
		},
		"join":  func(sep string, items []string) string { return strings.Join(items, sep) },
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}
}
