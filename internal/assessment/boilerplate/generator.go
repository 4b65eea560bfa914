// Package boilerplate produces the starter code shown for a challenge.
package boilerplate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"codeassess/internal/assessment/model"
	appErr "codeassess/pkg/errors"
)

// Provider generates starter code. Implementations must be pure.
type Provider interface {
	Generate(language model.Language, inputTypes []string, outputType string) (string, error)
}

// FunctionName is the entry point every starter declares.
const FunctionName = "solution"

type param struct {
	Name string
	Type string
}

type view struct {
	Func       string
	Params     []param
	ReturnType string
}

var funcs = template.FuncMap{
	"join": func(params []param, format string) string {
		parts := make([]string, 0, len(params))
		for _, p := range params {
			parts = append(parts, fmt.Sprintf(format, p.Name, p.Type))
		}
		return strings.Join(parts, ", ")
	},
}

var templates = map[model.Language]*template.Template{
	model.LanguageJavaScript: template.Must(template.New("javascript").Funcs(funcs).Parse(
		`/**
{{- range .Params}}
 * @param {{"{"}}{{.Type}}{{"}"}} {{.Name}}
{{- end}}
 * @returns {{"{"}}{{.ReturnType}}{{"}"}}
 */
function {{.Func}}({{join .Params "%[1]s"}}) {
  // Write your code here
}
`)),
	model.LanguageTypeScript: template.Must(template.New("typescript").Funcs(funcs).Parse(
		`function {{.Func}}({{join .Params "%[1]s: %[2]s"}}): {{.ReturnType}} {
  // Write your code here
}
`)),
	model.LanguagePython: template.Must(template.New("python").Funcs(funcs).Parse(
		`def {{.Func}}({{join .Params "%[1]s: %[2]s"}}) -> {{.ReturnType}}:
    # Write your code here
    pass
`)),
	model.LanguageJava: template.Must(template.New("java").Funcs(funcs).Parse(
		`class Solution {
    public static {{.ReturnType}} {{.Func}}({{join .Params "%[2]s %[1]s"}}) {
        // Write your code here
    }
}
`)),
	model.LanguageCPP: template.Must(template.New("cpp").Funcs(funcs).Parse(
		`#include <bits/stdc++.h>
using namespace std;

{{.ReturnType}} {{.Func}}({{join .Params "%[2]s %[1]s"}}) {
    // Write your code here
}
`)),
	model.LanguageGo: template.Must(template.New("go").Funcs(funcs).Parse(
		`package main

func {{.Func}}({{join .Params "%[1]s %[2]s"}}) {{.ReturnType}} {
	// Write your code here
}
`)),
}

// typeNames maps a challenge type to its spelling per language.
var typeNames = map[string]map[model.Language]string{
	"int": {
		model.LanguageJavaScript: "number", model.LanguageTypeScript: "number", model.LanguagePython: "int",
		model.LanguageJava: "int", model.LanguageCPP: "int", model.LanguageGo: "int",
	},
	"float": {
		model.LanguageJavaScript: "number", model.LanguageTypeScript: "number", model.LanguagePython: "float",
		model.LanguageJava: "double", model.LanguageCPP: "double", model.LanguageGo: "float64",
	},
	"string": {
		model.LanguageJavaScript: "string", model.LanguageTypeScript: "string", model.LanguagePython: "str",
		model.LanguageJava: "String", model.LanguageCPP: "string", model.LanguageGo: "string",
	},
	"bool": {
		model.LanguageJavaScript: "boolean", model.LanguageTypeScript: "boolean", model.LanguagePython: "bool",
		model.LanguageJava: "boolean", model.LanguageCPP: "bool", model.LanguageGo: "bool",
	},
	"int[]": {
		model.LanguageJavaScript: "number[]", model.LanguageTypeScript: "number[]", model.LanguagePython: "list[int]",
		model.LanguageJava: "int[]", model.LanguageCPP: "vector<int>", model.LanguageGo: "[]int",
	},
	"float[]": {
		model.LanguageJavaScript: "number[]", model.LanguageTypeScript: "number[]", model.LanguagePython: "list[float]",
		model.LanguageJava: "double[]", model.LanguageCPP: "vector<double>", model.LanguageGo: "[]float64",
	},
	"string[]": {
		model.LanguageJavaScript: "string[]", model.LanguageTypeScript: "string[]", model.LanguagePython: "list[str]",
		model.LanguageJava: "String[]", model.LanguageCPP: "vector<string>", model.LanguageGo: "[]string",
	},
	"bool[]": {
		model.LanguageJavaScript: "boolean[]", model.LanguageTypeScript: "boolean[]", model.LanguagePython: "list[bool]",
		model.LanguageJava: "boolean[]", model.LanguageCPP: "vector<bool>", model.LanguageGo: "[]bool",
	},
}

var fallbackTypes = map[model.Language]string{
	model.LanguageJavaScript: "*",
	model.LanguageTypeScript: "unknown",
	model.LanguagePython:     "object",
	model.LanguageJava:       "Object",
	model.LanguageCPP:        "auto",
	model.LanguageGo:         "any",
}

var typeAliases = map[string]string{
	"integer": "int",
	"number":  "int",
	"long":    "int",
	"double":  "float",
	"str":     "string",
	"boolean": "bool",
}

func resolveType(language model.Language, name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "")
	base, array := strings.CutSuffix(key, "[]")
	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	if array {
		base += "[]"
	}
	if names, ok := typeNames[base]; ok {
		return names[language]
	}
	return fallbackTypes[language]
}

// TemplateGenerator renders starter code from built-in templates.
type TemplateGenerator struct{}

// NewGenerator returns the default Provider.
func NewGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate renders starter code for the given signature.
// An empty outputType yields the language's untyped return.
func (TemplateGenerator) Generate(language model.Language, inputTypes []string, outputType string) (string, error) {
	tmpl, ok := templates[language]
	if !ok {
		return "", appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", language).
			WithDetail("language", string(language))
	}

	v := view{Func: FunctionName, ReturnType: resolveType(language, outputType)}
	for i, typ := range inputTypes {
		v.Params = append(v.Params, param{
			Name: fmt.Sprintf("arg%d", i+1),
			Type: resolveType(language, typ),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "render %s starter failed", language)
	}
	return buf.String(), nil
}
