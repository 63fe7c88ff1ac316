package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscan"
)

func TestValidate_ToolParameters(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "complete parameters",
			data: `{"product_name":"Panadol 500mg","active_ingredient":"Paracetamol","confidence":0.95}`,
		},
		{
			name:    "missing product name",
			data:    `{"active_ingredient":"Paracetamol","confidence":0.9}`,
			wantErr: true,
		},
		{
			name:    "empty product name",
			data:    `{"product_name":"","confidence":0.9}`,
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			data:    `{"product_name":"Panadol","confidence":1.5}`,
			wantErr: true,
		},
		{
			name:    "confidence is a string",
			data:    `{"product_name":"Panadol","confidence":"high"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `{product_name: Panadol}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(ToolParameters(), []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidate_ToolCall(t *testing.T) {
	ok := `{"tool_call":{"name":"lookup_medicine","parameters":{"product_name":"Panadol","confidence":0.8}}}`
	require.NoError(t, Validate(ToolCall(), []byte(ok)))

	wrongTool := `{"tool_call":{"name":"search_web","parameters":{"product_name":"Panadol","confidence":0.8}}}`
	assert.Error(t, Validate(ToolCall(), []byte(wrongTool)))
}

func TestReport_HasEveryField(t *testing.T) {
	s := Report()
	assert.Len(t, s.Properties, len(medscan.ReportFields))
	assert.ElementsMatch(t, medscan.ReportFields, s.Required)

	for _, field := range medscan.ReportFields {
		require.Contains(t, s.Properties, field)
		assert.Equal(t, "string", s.Properties[field].Type)
		assert.NotEmpty(t, s.Properties[field].Description)
	}
}

func TestJSON_IsStable(t *testing.T) {
	first, err := JSON(Report())
	require.NoError(t, err)
	second, err := JSON(Report())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, `"medicine_name"`)
}
