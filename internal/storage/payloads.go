package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/midl-xyz/load-test/pkg/types"
)

// WritePayloads writes a record-mode payload file atomically. The
// external replay driver consumes the file in order, so payload order
// is preserved exactly.
func WritePayloads(path string, payloads []types.Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create payload directory: %w", err)
	}

	data, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payloads: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write payload file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace payload file: %w", err)
	}
	return nil
}

// ReadPayloads loads a payload file written by WritePayloads.
func ReadPayloads(path string) ([]types.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload file: %w", err)
	}
	var payloads []types.Payload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, fmt.Errorf("decode payload file: %w", err)
	}
	return payloads, nil
}
