package backends

import (
	"bytes"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// GoTokenizer wraps the pure Go HuggingFace tokenizer. It is the default
// runtime and requires no cgo.
type GoTokenizer struct {
	tk *tokenizer.Tokenizer
}

func loadGoTokenizer(tokenizerBytes []byte) (Tokenizer, error) {
	tk, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, err
	}
	return &GoTokenizer{tk: tk}, nil
}

func (g *GoTokenizer) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	encoding, err := g.tk.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(encoding.Ids))
	for i, id := range encoding.Ids {
		ids[i] = int64(id)
	}
	return ids, nil
}

func (g *GoTokenizer) Decode(ids []int64, skipSpecialTokens bool) (string, error) {
	intIDs := make([]int, len(ids))
	for i, id := range ids {
		intIDs[i] = int(id)
	}
	return g.tk.Decode(intIDs, skipSpecialTokens), nil
}

func (g *GoTokenizer) Destroy() error {
	return nil
}
