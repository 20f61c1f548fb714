package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// templateVarRE matches {{VAR}} and {{VAR | default: value}} placeholders.
var templateVarRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:\|\s*default:\s*([^}]*?)\s*)?\}\}`)

// RenderTemplate substitutes {{VAR}} placeholders in an agent creation
// template. A placeholder with no provided value falls back to its declared
// default; a placeholder with neither renders empty.
func RenderTemplate(content string, vars map[string]string) string {
	return templateVarRE.ReplaceAllStringFunc(content, func(match string) string {
		groups := templateVarRE.FindStringSubmatch(match)
		name := groups[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return strings.TrimSpace(groups[2])
	})
}

// RenderTemplateFile loads <templatesDir>/<template>.yaml and renders it.
func RenderTemplateFile(templatesDir, template string, vars map[string]string) (string, error) {
	path := filepath.Join(templatesDir, template+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return RenderTemplate(string(data), vars), nil
}
