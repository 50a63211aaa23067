//go:build !(RUST || ALL)

package backends

import "errors"

func loadRustTokenizer(_ []byte) (Tokenizer, error) {
	return nil, errors.New("this build does not include the RUST tokenizer runtime, rebuild with -tags RUST or -tags ALL")
}
