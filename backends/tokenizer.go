package backends

import (
	"fmt"
	"strings"

	"github.com/sidegen-ml/sidegen/chatTemplates"
)

// Tokenizer is the boundary to an external tokenizer implementation.
type Tokenizer interface {
	Encode(text string, addSpecialTokens bool) ([]int64, error)
	Decode(ids []int64, skipSpecialTokens bool) (string, error)
	Destroy() error
}

// LoadTokenizer builds a tokenizer from the serialized tokenizer.json bytes.
// The runtime selects the implementation: GO uses the pure Go tokenizer, RUST
// the native HuggingFace bindings (when compiled in).
func LoadTokenizer(tokenizerBytes []byte, runtime string) (Tokenizer, error) {
	switch runtime {
	case "GO", "":
		return loadGoTokenizer(tokenizerBytes)
	case "RUST":
		return loadRustTokenizer(tokenizerBytes)
	default:
		return nil, fmt.Errorf("tokenizer runtime %s not recognized", runtime)
	}
}

type chatTemplateData struct {
	Messages            []Message
	AddGenerationPrompt bool
	EosToken            string
}

// ApplyChatTemplate renders a conversation into a model-ready prompt using
// the named template, optionally appending the generation prompt so the
// model continues as the assistant.
func ApplyChatTemplate(name string, messages []Message, addGenerationPrompt bool) (string, error) {
	if name == "" {
		name = "qwen"
	}
	tmpl, err := chatTemplates.Lookup(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, chatTemplateData{
		Messages:            messages,
		AddGenerationPrompt: addGenerationPrompt,
	}); err != nil {
		return "", fmt.Errorf("error rendering chat template %s: %w", name, err)
	}
	return sb.String(), nil
}

const thinkMarkers = "<think></think>"

// EndOfThinkTokenID derives the token id that closes the thinking span of a
// reasoning model. The open and close markers are encoded without special
// tokens; the second resulting id is the end-of-think token.
func EndOfThinkTokenID(tk Tokenizer) (int64, error) {
	ids, err := tk.Encode(thinkMarkers, false)
	if err != nil {
		return 0, err
	}
	if len(ids) < 2 {
		return 0, fmt.Errorf("tokenizer produced %d ids for %q, expected at least 2", len(ids), thinkMarkers)
	}
	return ids[1], nil
}
