package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

var varRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// resolveTemplate substitutes {{variable}} references against the bindings.
// A reference with no binding is an error; execution never proceeds with
// partially resolved input.
func resolveTemplate(template string, bindings map[string]string) (string, error) {
	var missing []string
	out := varRe.ReplaceAllStringFunc(template, func(m string) string {
		name := varRe.FindStringSubmatch(m)[1]
		v, ok := bindings[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unbound variable %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// maskToken is the stable placeholder stored in place of a sensitive value.
func maskToken(name string) string {
	return "[masked:" + name + "]"
}

// MaskBindings returns a copy of bindings with every sensitive variable
// replaced by its placeholder token. This copy is the only form in which
// bindings reach the execution record or the audit log.
func MaskBindings(spec *models.WorkflowSpec, bindings map[string]string) map[string]string {
	masked := make(map[string]string, len(bindings))
	for name, value := range bindings {
		if def, ok := spec.Variables[name]; ok && def.Sensitive {
			masked[name] = maskToken(name)
			continue
		}
		masked[name] = value
	}
	return masked
}
