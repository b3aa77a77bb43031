package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityengine/verity/pkg/domain"
)

const orderModule = `package contract

violations contains v if {
	input.total > 1000
	v := {
		"code": "total_too_high",
		"message": "order total exceeds the approval limit",
		"path": ["total"],
		"expected": "<=1000",
	}
}

violations contains v if {
	input.currency != "USD"
	v := {"code": "unsupported_currency", "message": "only USD orders are accepted"}
}
`

const stringModule = `package checks

deny contains msg if {
	not input.approved
	msg := "order is not approved"
}
`

func TestCheckPolicyPassing(t *testing.T) {
	e := NewEngine()

	violations, err := e.CheckPolicy(context.Background(), orderModule, "contract/violations",
		map[string]any{"total": 100, "currency": "USD"})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckPolicyStructuredViolations(t *testing.T) {
	e := NewEngine()

	violations, err := e.CheckPolicy(context.Background(), orderModule, "contract/violations",
		map[string]any{"total": 5000, "currency": "USD"})
	require.NoError(t, err)
	require.Len(t, violations, 1)

	assert.Equal(t, "total_too_high", violations[0].Code)
	assert.Equal(t, []string{"total"}, violations[0].Path)
	assert.Equal(t, "<=1000", violations[0].Expected)
}

func TestCheckPolicyMultipleViolations(t *testing.T) {
	e := NewEngine()

	violations, err := e.CheckPolicy(context.Background(), orderModule, "contract/violations",
		map[string]any{"total": 5000, "currency": "EUR"})
	require.NoError(t, err)
	assert.Len(t, violations, 2)
}

func TestCheckPolicyStringViolations(t *testing.T) {
	e := NewEngine()

	violations, err := e.CheckPolicy(context.Background(), stringModule, "checks/deny",
		map[string]any{"approved": false})
	require.NoError(t, err)
	require.Len(t, violations, 1)

	assert.Equal(t, domain.CodePolicyViolation, violations[0].Code)
	assert.Equal(t, "order is not approved", violations[0].Message)
}

func TestCheckPolicyBadModule(t *testing.T) {
	e := NewEngine()

	_, err := e.CheckPolicy(context.Background(), "this is not rego", "x/deny", nil)
	assert.Error(t, err)
}

func TestCheckPolicyRequiresEntrypoint(t *testing.T) {
	e := NewEngine()

	_, err := e.CheckPolicy(context.Background(), stringModule, "  ", nil)
	assert.Error(t, err)
}

func TestPreparedQueryReuseSurvivesFlush(t *testing.T) {
	e := NewEngine()
	payload := map[string]any{"approved": true}

	for i := 0; i < 3; i++ {
		violations, err := e.CheckPolicy(context.Background(), stringModule, "checks/deny", payload)
		require.NoError(t, err)
		assert.Empty(t, violations)
	}

	e.Flush()

	violations, err := e.CheckPolicy(context.Background(), stringModule, "checks/deny", payload)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
