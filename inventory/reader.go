package inventory

import (
	"fmt"
	"os"
	"path"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type ReadOptions struct {
	// Values available as {{ .Params.key }} in the inventory template
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

type TemplateData struct {
	Env    map[string]string
	Params map[string]string
}

// Read evaluates the inventory file as a template, then decodes and validates it.
func Read(file string, options ReadOptions) (inv *Inventory, err error) {
	var buf []byte
	if buf, err = os.ReadFile(file); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(path.Base(file), string(buf), options)
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	inv = &Inventory{path: file}
	if err = yaml.Unmarshal([]byte(source), inv); err != nil {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	if err = inv.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	return inv, nil
}

func evaluateTemplate(name string, source string, options ReadOptions) (string, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Params: options.Params,
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}
