// Package yamlio parses and schema-validates the test file format, and
// serializes it back out deterministically.
package yamlio

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/webtestkit/improve/internal/errs"
	"github.com/webtestkit/improve/internal/step"
)

// deprecatedKeys produce a migration hint rather than a bare rejection, at
// both the root and step level.
var deprecatedKeys = map[string]string{
	"optional":        "remove 'optional'; steps are no longer individually optional — use a separate test file if a step should be skipped",
	"llm":             "remove 'llm'; the improve engine no longer takes an LLM provider override",
	"improveProvider": "remove 'improveProvider'; provider selection is no longer a per-test YAML setting",
}

var rootAllowedKeys = map[string]bool{
	"name": true, "description": true, "baseUrl": true, "steps": true,
}

var stepKnownKeys = map[string]bool{
	"action": true, "url": true, "target": true, "text": true, "key": true,
	"value": true, "checked": true, "description": true,
}

// YAMLToTest parses raw YAML text into a validated step.Test.
// Validation failures are returned as *errs.ValidationError
// enumerating every offending path; deprecated keys produce the same error
// type with a migration-guidance message.
func YAMLToTest(raw []byte) (step.Test, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return step.Test{}, errs.NewValidationError(errs.CodeInvalidYAML, err.Error())
	}
	if len(doc.Content) == 0 {
		return step.Test{}, errs.NewValidationError(errs.CodeInvalidYAML, "empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return step.Test{}, errs.NewValidationError(errs.CodeSchemaViolation, "document root must be a mapping")
	}

	var paths []string
	var deprecationMsgs []string
	walkRootKeys(root, &paths, &deprecationMsgs)

	stepsNode := findMappingValue(root, "steps")
	if stepsNode != nil && stepsNode.Kind == yaml.SequenceNode {
		for i, item := range stepsNode.Content {
			if item.Kind != yaml.MappingNode {
				continue
			}
			walkStepKeys(item, i, &paths, &deprecationMsgs)
		}
	}

	if len(deprecationMsgs) > 0 {
		return step.Test{}, errs.NewValidationError(errs.CodeDeprecatedKey, joinUnique(deprecationMsgs), paths...)
	}
	if len(paths) > 0 {
		sort.Strings(paths)
		return step.Test{}, errs.NewValidationError(errs.CodeUnknownRootKey, "unknown key(s) at document root", paths...)
	}

	var t step.Test
	if err := root.Decode(&t); err != nil {
		return step.Test{}, errs.NewValidationError(errs.CodeSchemaViolation, err.Error())
	}

	var badPaths []string
	if t.Name == "" {
		badPaths = append(badPaths, "$.name")
	}
	for i, s := range t.Steps {
		if err := s.Validate(); err != nil {
			badPaths = append(badPaths, fmt.Sprintf("$.steps[%d]: %v", i, err))
		}
	}
	if len(badPaths) > 0 {
		return step.Test{}, errs.NewValidationError(errs.CodeSchemaViolation, "step validation failed", badPaths...)
	}

	return t, nil
}

func walkRootKeys(root *yaml.Node, unknownPaths *[]string, deprecationMsgs *[]string) {
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if hint, deprecated := deprecatedKeys[key]; deprecated {
			*deprecationMsgs = append(*deprecationMsgs, fmt.Sprintf("$.%s: %s", key, hint))
			continue
		}
		if !rootAllowedKeys[key] {
			*unknownPaths = append(*unknownPaths, "$."+key)
		}
	}
}

func walkStepKeys(item *yaml.Node, index int, unknownPaths *[]string, deprecationMsgs *[]string) {
	for i := 0; i+1 < len(item.Content); i += 2 {
		key := item.Content[i].Value
		if hint, deprecated := deprecatedKeys[key]; deprecated {
			*deprecationMsgs = append(*deprecationMsgs, fmt.Sprintf("$.steps[%d].%s: %s", index, key, hint))
			continue
		}
		// Unknown keys are accepted silently on steps.
		_ = stepKnownKeys[key]
	}
	_ = unknownPaths
}

func findMappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func joinUnique(msgs []string) string {
	seen := make(map[string]bool)
	var out string
	for _, m := range msgs {
		if seen[m] {
			continue
		}
		seen[m] = true
		if out != "" {
			out += "; "
		}
		out += m
	}
	return out
}
