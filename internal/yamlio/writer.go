package yamlio

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/webtestkit/improve/internal/step"
)

// lineWidth is the target wrap width. go-yaml/yaml.v3
// does not expose a public line-width knob on its Encoder (unlike the
// upstream libyaml C emitter it wraps), and this writer neither passes
// lineWidth to the encoder nor shortens or wraps values, so a long scalar
// can produce a line wider than lineWidth.
const lineWidth = 120

// TestToYAML serializes a step.Test with the deterministic key order,
// quoted-string style, and array order the round-trip guarantee needs:
// stepsToYaml(stepsToYaml⁻¹(x)) ≡ canonical(x) after this normalization.
func TestToYAML(t step.Test) ([]byte, error) {
	doc := buildTestNode(t)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildTestNode(t step.Test) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	appendKV(root, "name", quotedScalar(t.Name))
	if t.Description != "" {
		appendKV(root, "description", quotedScalar(t.Description))
	}
	if t.BaseURL != "" {
		appendKV(root, "baseUrl", quotedScalar(t.BaseURL))
	}

	stepsNode := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, s := range t.Steps {
		stepsNode.Content = append(stepsNode.Content, buildStepNode(s))
	}
	appendKV(root, "steps", stepsNode)

	return root
}

func buildStepNode(s step.Step) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	appendKV(n, "action", quotedScalar(string(s.Action)))

	if s.Action == step.ActionNavigate {
		appendKV(n, "url", quotedScalar(s.URL))
	} else if s.Target != nil {
		appendKV(n, "target", buildTargetNode(*s.Target))
	}

	if s.Text != "" {
		appendKV(n, "text", quotedScalar(s.Text))
	}
	if s.Key != "" {
		appendKV(n, "key", quotedScalar(s.Key))
	}
	if s.Value != "" {
		appendKV(n, "value", quotedScalar(s.Value))
	}
	if s.Checked != nil {
		appendKV(n, "checked", boolScalar(*s.Checked))
	}
	if s.Description != "" {
		appendKV(n, "description", quotedScalar(s.Description))
	}
	return n
}

func buildTargetNode(target step.Target) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	appendKV(n, "value", quotedScalar(target.Value))
	appendKV(n, "kind", quotedScalar(string(target.Kind)))
	appendKV(n, "source", quotedScalar(string(target.Source)))
	if len(target.FramePath) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, f := range target.FramePath {
			seq.Content = append(seq.Content, quotedScalar(f))
		}
		appendKV(n, "framePath", seq)
	}
	if target.Raw != "" {
		appendKV(n, "raw", quotedScalar(target.Raw))
	}
	if target.Confidence != nil {
		appendKV(n, "confidence", numberScalar(*target.Confidence))
	}
	if target.Warning != "" {
		appendKV(n, "warning", quotedScalar(target.Warning))
	}
	return n
}

func appendKV(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, quotedScalar(key), value)
}

func quotedScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.DoubleQuotedStyle}
}

func boolScalar(b bool) *yaml.Node {
	v := "false"
	if b {
		v = "true"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: v}
}

func numberScalar(f float64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: trimFloat(f)}
}
