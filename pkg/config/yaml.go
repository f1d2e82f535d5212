package config

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// keyRequires is the list key used by structured formats for plugin
// requirements.
const keyRequires = "requires"

// parseYAMLStatements reads a YAML (or JSON) mapping of settings.
func parseYAMLStatements(file string, content []byte) (*statements, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, yamlSyntaxError(file, err)
	}

	out := &statements{}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return out, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &SyntaxError{File: file, Line: root.Line, Column: root.Column, Message: "top level must be a mapping"}
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]

		if keyNode.Value == keyRequires {
			reqs, err := yamlRequires(file, valNode)
			if err != nil {
				return nil, err
			}
			out.requires = append(out.requires, reqs...)
			continue
		}

		val, err := yamlScalar(file, valNode)
		if err != nil {
			return nil, err
		}
		out.assignments = append(out.assignments, assignment{
			key:    keyNode.Value,
			value:  val,
			line:   keyNode.Line,
			column: keyNode.Column,
		})
	}

	return out, nil
}

// yamlErrorLine matches the position prefix of yaml.v3 parse errors, which
// carry a line but no column.
var yamlErrorLine = regexp.MustCompile(`^yaml: line (\d+): (.*)$`)

func yamlSyntaxError(file string, err error) *SyntaxError {
	msg := err.Error()
	if m := yamlErrorLine.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return &SyntaxError{File: file, Line: line, Message: m[2]}
	}
	return &SyntaxError{File: file, Line: 1, Column: 1, Message: msg}
}

func yamlScalar(file string, n *yaml.Node) (Value, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode {
		return Value{}, &SyntaxError{File: file, Line: n.Line, Column: n.Column, Message: "setting values must be scalars"}
	}

	switch n.ShortTag() {
	case "!!null":
		return Value{Kind: ValueNil}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, &SyntaxError{File: file, Line: n.Line, Column: n.Column, Message: err.Error()}
		}
		return BoolValue(b), nil
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return Value{}, &SyntaxError{File: file, Line: n.Line, Column: n.Column, Message: err.Error()}
		}
		return Value{Kind: ValueInt, Int: i}, nil
	case "!!str":
		return StringValue(n.Value), nil
	}
	return Value{}, &SyntaxError{
		File:    file,
		Line:    n.Line,
		Column:  n.Column,
		Message: fmt.Sprintf("unsupported value type %s", n.ShortTag()),
	}
}

func yamlRequires(file string, n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		reqs := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, &SyntaxError{File: file, Line: item.Line, Column: item.Column, Message: "requires entries must be strings"}
			}
			reqs = append(reqs, item.Value)
		}
		return reqs, nil
	}
	return nil, &SyntaxError{File: file, Line: n.Line, Column: n.Column, Message: "requires must be a string or a list of strings"}
}
