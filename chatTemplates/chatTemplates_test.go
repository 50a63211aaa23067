package chatTemplates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Role    string
	Content string
}

type templateData struct {
	Messages            []message
	AddGenerationPrompt bool
	EosToken            string
}

func render(t *testing.T, name string, data templateData) string {
	tmpl, err := Lookup(name)
	require.NoError(t, err)
	var sb strings.Builder
	require.NoError(t, tmpl.Execute(&sb, data))
	return sb.String()
}

func TestQwenTemplate(t *testing.T) {
	out := render(t, "qwen", templateData{
		Messages: []message{
			{Role: "system", Content: "S"},
			{Role: "user", Content: "hi"},
		},
		AddGenerationPrompt: true,
	})
	expected := "<|im_start|>system\nS<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n"
	assert.Equal(t, expected, out)
}

func TestQwenTemplateDefaultSystem(t *testing.T) {
	out := render(t, "qwen", templateData{
		Messages:            []message{{Role: "user", Content: "hi"}},
		AddGenerationPrompt: true,
	})
	assert.True(t, strings.HasPrefix(out, "<|im_start|>system\nYou are a helpful assistant.<|im_end|>\n"))
	assert.True(t, strings.HasSuffix(out, "<|im_start|>assistant\n"))
}

func TestQwenTemplateNoGenerationPrompt(t *testing.T) {
	out := render(t, "qwen", templateData{
		Messages: []message{{Role: "user", Content: "hi"}},
	})
	assert.True(t, strings.HasSuffix(out, "<|im_start|>user\nhi<|im_end|>\n"))
}

func TestText2ImageTemplate(t *testing.T) {
	out := render(t, "text_to_image", templateData{
		Messages: []message{{Role: "User", Content: "a cat"}},
	})
	assert.Equal(t, "User: a cat\n\n<begin_of_image>", out)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("nope")
	assert.Error(t, err)
}
