package main

import (
	"bytes"
	"fmt"
	"text/template"
)

var funcMap = template.FuncMap{
	"hex16": func(v uint16) string { return fmt.Sprintf("0x%04X", v) },
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}

var descriptorsTmpl = template.Must(template.New("descriptors").Funcs(funcMap).Parse(`// Code generated by lrmsggen from {{.Source}}. DO NOT EDIT.

package {{.Package}}

// Command classes.
const (
{{- range .Schema.Classes}}
	Class{{.Name}} uint16 = {{hex16 .Class}}
{{- end}}
)
{{range $c := .Schema.Classes}}
// {{$c.Name}} command ids.
const (
{{- range $c.Commands}}
	ID{{$c.Name}}{{.Name}} uint16 = {{.ID}}
{{- end}}
)
{{end}}
var classNames = map[uint16]string{
{{- range .Schema.Classes}}
	Class{{.Name}}: {{quote .Name}},
{{- end}}
}

var commandNames = map[CommandKey]string{
{{- range $c := .Schema.Classes}}{{range $c.Commands}}
	{Class{{$c.Name}}, ID{{$c.Name}}{{.Name}}}: "{{$c.Name}}.{{.Name}}",
{{- end}}{{end}}
}

// ClassName returns the name of a command class, or "" if unknown.
func ClassName(class uint16) string {
	return classNames[class]
}

// CommandName returns "Class.Command", or "" if unknown.
func CommandName(class, id uint16) string {
	return commandNames[CommandKey{class, id}]
}

// LookupCommand returns the key of a "Class.Command" name.
func LookupCommand(name string) (CommandKey, bool) {
	for k, n := range commandNames {
		if n == name {
			return k, true
		}
	}
	return CommandKey{}, false
}
`))

// Generate renders the descriptor tables of s as unformatted Go source.
func Generate(s *Schema, pkg, source string) (string, error) {
	var buf bytes.Buffer
	err := descriptorsTmpl.Execute(&buf, struct {
		Schema  *Schema
		Package string
		Source  string
	}{s, pkg, source})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
