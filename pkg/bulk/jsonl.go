package bulk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// maxLineSize bounds one JSONL line when decoding bulk results.
const maxLineSize = 16 * 1024 * 1024

// WriteJSONL writes one JSON document per line.
func WriteJSONL[T any](w io.Writer, lines []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, line := range lines {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode line %d: %w", i+1, err)
		}
	}
	return nil
}

// WriteJSONLFile writes lines to a new uniquely named file in dir and returns its path.
func WriteJSONLFile[T any](dir, prefix string, lines []T) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", prefix, uuid.NewString()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create jsonl file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := WriteJSONL(w, lines); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("flush jsonl file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close jsonl file: %w", err)
	}
	return path, nil
}

// DecodeJSONL reads one JSON document per non-empty line.
func DecodeJSONL[T any](r io.Reader) ([]T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var out []T
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", lineNum, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return out, nil
}
