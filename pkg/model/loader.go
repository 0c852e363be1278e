package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// definitionFile is the YAML shape of a process definition resource. The
// format carries node/transition ids and container nesting exactly as
// declared; no other interchange format is prescribed.
type definitionFile struct {
	Process struct {
		Name                 string `yaml:"name"`
		FlowElementContainer `yaml:",inline"`
	} `yaml:"process"`
}

// ParseDefinition parses and validates a YAML process definition. The
// caller supplies the definition key; versioning against previously
// deployed definitions is the deployer's concern.
func ParseDefinition(data []byte, key int64) (*ProcessDefinition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition data: %w", err)
	}
	container := file.Process.FlowElementContainer
	definition, err := NewProcessDefinition(file.Process.Name, 1, key, &container)
	if err != nil {
		return nil, err
	}
	definition.Checksum = ChecksumOf(data)
	return definition, nil
}

// ParseDefinitionFile reads and parses a YAML process definition file.
func ParseDefinitionFile(filename string, key int64) (*ProcessDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition from file: %w", err)
	}
	return ParseDefinition(data, key)
}

// ChecksumOf returns the definition checksum of raw resource data, sha1 hex
// lower case, similar to git hashes.
func ChecksumOf(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
