package main

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Schema is the message schema: command classes and their ids.
type Schema struct {
	Classes []ClassDef `yaml:"classes"`
}

// ClassDef is one command class.
type ClassDef struct {
	Name     string       `yaml:"name"`
	Class    uint16       `yaml:"class"`
	Commands []CommandDef `yaml:"commands"`
}

// CommandDef is one command id within a class.
type CommandDef struct {
	Name string `yaml:"name"`
	ID   uint16 `yaml:"id"`
}

var identRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// LoadSchema reads a schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSchema(data)
}

// ParseSchema decodes schema YAML.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names and uniqueness. Class 0 is reserved.
func (s *Schema) Validate() error {
	if len(s.Classes) == 0 {
		return fmt.Errorf("no classes")
	}
	names := make(map[string]bool)
	values := make(map[uint16]string)
	for _, c := range s.Classes {
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("class %q: name must be an exported Go identifier", c.Name)
		}
		if names[c.Name] {
			return fmt.Errorf("class %q: duplicate name", c.Name)
		}
		names[c.Name] = true
		if c.Class == 0 {
			return fmt.Errorf("class %q: value 0 is reserved", c.Name)
		}
		if other, ok := values[c.Class]; ok {
			return fmt.Errorf("class %q: value 0x%04x already used by %q", c.Name, c.Class, other)
		}
		values[c.Class] = c.Name

		if len(c.Commands) == 0 {
			return fmt.Errorf("class %q: no commands", c.Name)
		}
		cmdNames := make(map[string]bool)
		ids := make(map[uint16]string)
		for _, cmd := range c.Commands {
			if !identRe.MatchString(cmd.Name) {
				return fmt.Errorf("%s.%s: name must be an exported Go identifier", c.Name, cmd.Name)
			}
			if cmdNames[cmd.Name] {
				return fmt.Errorf("%s.%s: duplicate name", c.Name, cmd.Name)
			}
			cmdNames[cmd.Name] = true
			if other, ok := ids[cmd.ID]; ok {
				return fmt.Errorf("%s.%s: id %d already used by %s", c.Name, cmd.Name, cmd.ID, other)
			}
			ids[cmd.ID] = cmd.Name
		}
	}
	return nil
}

// CommandCount returns the number of commands across all classes.
func (s *Schema) CommandCount() int {
	n := 0
	for _, c := range s.Classes {
		n += len(c.Commands)
	}
	return n
}
