package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-bridge/types"
)

func TestToolsToOpenAI(t *testing.T) {
	tools := []types.Tool{
		{Name: "Read", Description: "Read a file", InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)},
		{Name: "Noop"},
	}

	out := ToolsToOpenAI(tools, map[string]string{"Read": "Read a file from disk"})

	require.Len(t, out, 2)
	assert.Equal(t, "function", out[0].Type)
	assert.Equal(t, "Read", out[0].Function.Name)
	assert.Equal(t, "Read a file from disk", out[0].Function.Description)
	assert.JSONEq(t, string(tools[0].InputSchema), string(out[0].Function.Parameters))
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(out[1].Function.Parameters))

	back := ToolsToAnthropic(out)
	require.Len(t, back, 2)
	assert.Equal(t, "Read", back[0].Name)
	assert.JSONEq(t, string(tools[0].InputSchema), string(back[0].InputSchema))
}

func TestToolsToOpenAI_Empty(t *testing.T) {
	assert.Nil(t, ToolsToOpenAI(nil, nil))
	assert.Nil(t, ToolsToAnthropic(nil))
}

func TestValidateToolSchema(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		wantErr bool
	}{
		{name: "object schema", schema: `{"type":"object","properties":{"a":{"type":"string"}}}`},
		{name: "absent", schema: ``},
		{name: "not json", schema: `{"type":`, wantErr: true},
		{name: "not an object", schema: `"object"`, wantErr: true},
		{name: "bad type keyword", schema: `{"type":"nonsense"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToolSchema(json.RawMessage(tt.schema))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToolChoiceMapping(t *testing.T) {
	tests := []struct {
		name   string
		choice *types.ToolChoice
		flat   string
	}{
		{name: "auto", choice: &types.ToolChoice{Type: "auto"}, flat: `"auto"`},
		{name: "any", choice: &types.ToolChoice{Type: "any"}, flat: `"required"`},
		{name: "none", choice: &types.ToolChoice{Type: "none"}, flat: `"none"`},
		{name: "named tool", choice: &types.ToolChoice{Type: "tool", Name: "Read"}, flat: `{"type":"function","function":{"name":"Read"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flat, err := ToolChoiceToOpenAI(tt.choice)
			require.NoError(t, err)
			assert.JSONEq(t, tt.flat, string(flat))

			back, err := ToolChoiceToAnthropic(flat)
			require.NoError(t, err)
			assert.Equal(t, tt.choice, back)
		})
	}
}

func TestToolChoiceMapping_Errors(t *testing.T) {
	_, err := ToolChoiceToOpenAI(&types.ToolChoice{Type: "tool"})
	assert.Error(t, err)

	_, err = ToolChoiceToOpenAI(&types.ToolChoice{Type: "sometimes"})
	assert.Error(t, err)

	_, err = ToolChoiceToAnthropic(json.RawMessage(`"maybe"`))
	assert.Error(t, err)

	choice, err := ToolChoiceToOpenAI(nil)
	assert.NoError(t, err)
	assert.Nil(t, choice)
}
