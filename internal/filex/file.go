package filex

import (
	"fmt"
	"io"
	"os"
)

// StdinName selects standard input in ReadInput.
const StdinName = "-"

// MaxInputSize caps what ReadInput will load.
const MaxInputSize = 8 << 20

// ReadInput loads a file, or stdin when path is "-".
func ReadInput(path string, stdin io.Reader) ([]byte, error) {
	var r io.Reader
	if path == StdinName {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > MaxInputSize {
		return nil, fmt.Errorf("read %s: larger than %d bytes", path, MaxInputSize)
	}
	return data, nil
}
