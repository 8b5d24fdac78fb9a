package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"chat-bridge/types"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolsToOpenAI wraps block-style tool definitions in the flat function
// envelope, renaming input_schema to parameters. descriptions maps a tool
// name to a replacement description.
func ToolsToOpenAI(tools []types.Tool, descriptions map[string]string) []types.OpenAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.OpenAITool, 0, len(tools))
	for _, tool := range tools {
		description := tool.Description
		if override, ok := descriptions[tool.Name]; ok {
			description = override
		}
		out = append(out, types.OpenAITool{
			Type: "function",
			Function: types.OpenAIToolFunction{
				Name:        tool.Name,
				Description: description,
				Parameters:  schemaOrEmpty(tool.InputSchema),
			},
		})
	}
	return out
}

// ToolsToAnthropic unwraps flat function tools into block-style definitions
func ToolsToAnthropic(tools []types.OpenAITool) []types.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, types.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schemaOrEmpty(tool.Function.Parameters),
		})
	}
	return out
}

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyObjectSchema
	}
	return schema
}

// ValidateToolSchema checks that a tool schema is itself a usable JSON Schema
func ValidateToolSchema(schema json.RawMessage) error {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) == 0 {
		return nil
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("schema is not valid JSON")
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("schema must be a JSON object")
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(trimmed)); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}

// ToolChoiceToOpenAI maps a block-style tool_choice onto the flat one:
// auto stays auto, any becomes required, tool names a function and none
// stays none.
func ToolChoiceToOpenAI(choice *types.ToolChoice) (json.RawMessage, error) {
	if choice == nil {
		return nil, nil
	}
	switch choice.Type {
	case "auto", "":
		return json.RawMessage(`"auto"`), nil
	case "any":
		return json.RawMessage(`"required"`), nil
	case "none":
		return json.RawMessage(`"none"`), nil
	case "tool":
		if choice.Name == "" {
			return nil, fmt.Errorf("tool_choice of type tool requires a name")
		}
		return json.Marshal(namedFunctionChoice(choice.Name))
	}
	return nil, fmt.Errorf("unknown tool_choice type %q", choice.Type)
}

// ToolChoiceToAnthropic is the inverse of ToolChoiceToOpenAI
func ToolChoiceToAnthropic(raw json.RawMessage) (*types.ToolChoice, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var mode string
	if err := json.Unmarshal(trimmed, &mode); err == nil {
		switch mode {
		case "auto":
			return &types.ToolChoice{Type: "auto"}, nil
		case "required":
			return &types.ToolChoice{Type: "any"}, nil
		case "none":
			return &types.ToolChoice{Type: "none"}, nil
		}
		return nil, fmt.Errorf("unknown tool_choice %q", mode)
	}

	var named functionChoice
	if err := json.Unmarshal(trimmed, &named); err != nil {
		return nil, fmt.Errorf("tool_choice: %w", err)
	}
	if named.Function.Name == "" {
		return nil, fmt.Errorf("tool_choice function requires a name")
	}
	return &types.ToolChoice{Type: "tool", Name: named.Function.Name}, nil
}

type functionChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func namedFunctionChoice(name string) functionChoice {
	c := functionChoice{Type: "function"}
	c.Function.Name = name
	return c
}
