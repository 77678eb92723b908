// Package yamlutil updates YAML documents while keeping comments and unknown keys.
package yamlutil

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MergeDocument encodes updated and merges it into the existing YAML content.
//
// Keys present in updated replace the matching values in content, nested
// mappings are merged key by key, and keys only present in content are kept.
// Head and line comments attached to existing keys survive the merge. When
// content is empty or cannot be parsed, the plain encoding of updated is
// returned.
func MergeDocument(content []byte, updated any) ([]byte, error) {
	var src yaml.Node
	if err := src.Encode(updated); err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	if strings.TrimSpace(string(content)) == "" {
		return encode(&src)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil || doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return encode(&src)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		return encode(&src)
	}

	mergeMapping(root, &src)
	return encode(&doc)
}

// mergeMapping copies every key of src into dst.
func mergeMapping(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key := src.Content[i]
		value := src.Content[i+1]

		idx := findKey(dst, key.Value)
		if idx < 0 {
			dst.Content = append(dst.Content, key, value)
			continue
		}

		existing := dst.Content[idx+1]
		if existing.Kind == yaml.MappingNode && value.Kind == yaml.MappingNode {
			mergeMapping(existing, value)
			continue
		}

		value.LineComment = existing.LineComment
		value.HeadComment = existing.HeadComment
		value.FootComment = existing.FootComment
		dst.Content[idx+1] = value
	}
}

// findKey returns the index of the key node named name in a mapping, or -1.
func findKey(mapping *yaml.Node, name string) int {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == name {
			return i
		}
	}
	return -1
}

func encode(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}
