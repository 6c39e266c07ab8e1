package igclient

import (
	"context"
	"testing"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

type fakeCaller struct {
	lastTool string
	lastArgs map[string]interface{}
	result   *models.CallToolResult
	err      error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]interface{}) (*models.CallToolResult, error) {
	f.lastTool = name
	f.lastArgs = args
	return f.result, f.err
}

func textResult(text string) *models.CallToolResult {
	return &models.CallToolResult{
		Content: []models.Content{
			models.TextContent{Type: "text", Text: text},
		},
	}
}

func TestVariableDefinition(t *testing.T) {
	caller := &fakeCaller{result: textResult("### SEX - Sex\nRole: Qualifier\nCodelist: C66731")}
	c := NewClient(caller)

	text, err := c.VariableDefinition(context.Background(), "DM", "SEX")
	require.NoError(t, err)
	assert.Contains(t, text, "C66731")
	assert.Equal(t, "sdtm_variable_lookup", caller.lastTool)
	assert.Equal(t, "DM", caller.lastArgs["domain"])
	assert.Equal(t, "SEX", caller.lastArgs["variable"])
}

func TestDomainSummaryOmitsVariable(t *testing.T) {
	caller := &fakeCaller{result: textResult("## Summary Table\n| Variable | Type |")}
	c := NewClient(caller)

	_, err := c.DomainSummary(context.Background(), "VS")
	require.NoError(t, err)
	_, hasVariable := caller.lastArgs["variable"]
	assert.False(t, hasVariable)
}

func TestCodelistMappingsWithCheckValues(t *testing.T) {
	caller := &fakeCaller{result: textResult("| M | MAPPED | M | -- |")}
	c := NewClient(caller)

	_, err := c.CodelistMappings(context.Background(), "C66731", []string{"M", "Male"})
	require.NoError(t, err)
	assert.Equal(t, "ct_lookup", caller.lastTool)
	assert.Equal(t, "C66731", caller.lastArgs["codelist_code"])
	assert.Equal(t, []string{"M", "Male"}, caller.lastArgs["check_values"])
}

func TestLookupErrorsSurfaceAsVocabularyFailures(t *testing.T) {
	t.Run("server error flag", func(t *testing.T) {
		caller := &fakeCaller{result: &models.CallToolResult{IsError: true}}
		_, err := NewClient(caller).VariableDefinition(context.Background(), "DM", "NOPE")
		require.Error(t, err)
		assert.Equal(t, errors.VocabularyLookupFailed, errors.CodeOf(err))
	})

	t.Run("transport error", func(t *testing.T) {
		caller := &fakeCaller{err: errors.New(errors.Timeout, "deadline exceeded")}
		_, err := NewClient(caller).DomainSummary(context.Background(), "DM")
		require.Error(t, err)
		assert.Equal(t, errors.VocabularyLookupFailed, errors.CodeOf(err))
	})

	t.Run("empty content", func(t *testing.T) {
		caller := &fakeCaller{result: &models.CallToolResult{}}
		_, err := NewClient(caller).CodelistMappings(context.Background(), "C66731", nil)
		require.Error(t, err)
		assert.Equal(t, errors.VocabularyLookupFailed, errors.CodeOf(err))
	})
}
