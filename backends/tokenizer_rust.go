//go:build RUST || ALL

package backends

import (
	"github.com/daulet/tokenizers"
)

// RustTokenizer wraps the native HuggingFace tokenizer bindings.
type RustTokenizer struct {
	tk *tokenizers.Tokenizer
}

func loadRustTokenizer(tokenizerBytes []byte) (Tokenizer, error) {
	tk, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, err
	}
	return &RustTokenizer{tk: tk}, nil
}

func (r *RustTokenizer) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	encoding := r.tk.EncodeWithOptions(text, addSpecialTokens, tokenizers.WithReturnTokens())
	ids := make([]int64, len(encoding.IDs))
	for i, id := range encoding.IDs {
		ids[i] = int64(id)
	}
	return ids, nil
}

func (r *RustTokenizer) Decode(ids []int64, skipSpecialTokens bool) (string, error) {
	uintIDs := make([]uint32, len(ids))
	for i, id := range ids {
		uintIDs[i] = uint32(id)
	}
	return r.tk.Decode(uintIDs, skipSpecialTokens), nil
}

func (r *RustTokenizer) Destroy() error {
	return r.tk.Close()
}
