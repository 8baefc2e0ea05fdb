// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// DisableMigrationOnNextStartup sets migration.on-next-startup to false in
// the file at path, leaving the rest of the document and its comments as
// they were. It is a no-op when the key is absent or already false.
func DisableMigrationOnNextStartup(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_INVALID_YAML").With("path", path).Wrap(err)
	}
	if len(doc.Content) == 0 {
		return nil
	}

	node := lookup(doc.Content[0], "migration", "on-next-startup")
	if node == nil || node.Value == "false" {
		return nil
	}
	node.Kind = yaml.ScalarNode
	node.Tag = "!!bool"
	node.Value = "false"
	node.Style = 0

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// lookup walks mapping keys from n and returns the value node, or nil.
func lookup(n *yaml.Node, keys ...string) *yaml.Node {
	for _, key := range keys {
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

// writeFileAtomic replaces path through a temporary file in the same
// directory, keeping the original permissions.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gatekeeper-*.yml")
	if err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
