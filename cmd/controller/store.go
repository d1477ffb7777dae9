package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/mizrachiran/brewos/internal/config"
)

// fileStore is a minimal JSON-file-backed config.Store. Persistence is an
// external sink: the core consumes a load()/store() capability and never
// imports this file or os/encoding-json itself.
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore { return &fileStore{path: path} }

func (s *fileStore) Load() (config.Configuration, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Configuration{}, config.ErrNotFound
	}
	if err != nil {
		return config.Configuration{}, err
	}
	var c config.Configuration
	if err := json.Unmarshal(b, &c); err != nil {
		return config.Configuration{}, err
	}
	return c, nil
}

func (s *fileStore) Save(c config.Configuration) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}
