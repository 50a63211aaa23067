//go:build !cgo || !(LLAMA || ALL)

package backends

import "errors"

func newGenerativeBackend(_ ModelConfig, _ string, _, _ int) (GenerativeModel, error) {
	return nil, errors.New("this build does not include the llama.cpp backend, rebuild with -tags LLAMA or -tags ALL")
}
