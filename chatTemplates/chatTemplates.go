package chatTemplates

import (
	"fmt"
	"strings"
	"text/template"
)

var FuncMap = template.FuncMap{
	"mod": func(a, b int) int {
		return a % b
	},
	"trim": func(s string) string {
		return strings.TrimSpace(s)
	},
}

// Qwen (Qwen2.5) chat template (simplified – no tool calls) closely mirroring the original Jinja template.
// Each message is wrapped as:
// <|im_start|>{role}\n{content}<|im_end|>\n
// For generation we append an opening assistant block without the closing <|im_end|> so the model continues.
const QwenTemplate = `{{- if and .Messages (eq (index .Messages 0).Role "system") -}}
<|im_start|>system
{{(index .Messages 0).Content}}<|im_end|>
{{else -}}
<|im_start|>system
You are a helpful assistant.<|im_end|>
{{end -}}
{{- range $i, $m := .Messages -}}
{{- if and (eq $i 0) (eq $m.Role "system")}}{{continue}}{{end -}}
<|im_start|>{{$m.Role}}
{{$m.Content}}<|im_end|>
{{end -}}
{{- if .AddGenerationPrompt -}}
<|im_start|>assistant
{{end -}}`

const GemmaTemplate = `
{{- $firstUserPrefix := "" -}}
{{- $loopMessages := .Messages -}}
{{- if and .Messages (eq (index .Messages 0).Role "system") -}}
    {{- $systemMessage := index .Messages 0 -}}
    {{- $firstUserPrefix = printf "%s\n\n" $systemMessage.Content -}}
    {{- $loopMessages = slice .Messages 1 -}}
{{- end -}}
{{- range $index, $message := $loopMessages -}}
    {{- $role := $message.Role -}}
    {{- if eq $message.Role "assistant" -}}
        {{- $role = "model" -}}
    {{- end -}}
<start_of_turn>{{$role}}
{{ if eq $index 0 }}{{$firstUserPrefix}}{{- end -}}
{{- $message.Content | trim -}}
<end_of_turn>
{{- end -}}
{{ if .AddGenerationPrompt }}
<start_of_turn>model
{{ end }}`

const PhiTemplate = `{{range .Messages}}{{if eq .Role "system"}}<|system|>
{{.Content}}<|end|>
{{else if eq .Role "user"}}<|user|>
{{.Content}}<|end|>
{{else if eq .Role "assistant"}}<|assistant|>
{{.Content}}<|end|>
{{end}}{{end}}{{if .AddGenerationPrompt}}<|assistant|>
{{else}}{{.EosToken}}{{end}}`

// Text-to-image conversations are single turn with title-case roles, closed
// by the image start tag so the model decodes image tokens next.
const Text2ImageTemplate = `{{- range .Messages -}}
{{.Role}}: {{.Content | trim}}

{{end -}}
<begin_of_image>`

var templates = map[string]*template.Template{
	"qwen":          template.Must(template.New("qwen").Funcs(FuncMap).Parse(QwenTemplate)),
	"gemma":         template.Must(template.New("gemma").Funcs(FuncMap).Parse(GemmaTemplate)),
	"phi":           template.Must(template.New("phi").Funcs(FuncMap).Parse(PhiTemplate)),
	"text_to_image": template.Must(template.New("text_to_image").Funcs(FuncMap).Parse(Text2ImageTemplate)),
}

// Lookup returns the parsed chat template registered under name.
func Lookup(name string) (*template.Template, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("chat template %s not found", name)
	}
	return tmpl, nil
}
