package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityengine/verity/pkg/config"
)

const bundleYAML = `
contracts:
  - name: payment
    schema:
      kind: object
      fields:
        amount:
          kind: leaf
          type: number
          min: 0
        currency:
          kind: leaf
          type: string
          enum: [USD, EUR]
      required: [amount, currency]
      unknown_fields: reject

pipelines:
  - name: checkout
    strategy: strict
    steps:
      - name: payment-shape
        contract: payment
      - name: high-value
        when: 'data.amount > 1000'
        contract: payment

dispatchers:
  - name: inbound
    default: payment
    rules:
      - when: 'ctx.source == "partner"'
        contract: payment
        priority: 10
`

func TestApplyBundleEndToEnd(t *testing.T) {
	eng := New(Config{})
	ctx := context.Background()

	bundle, err := config.Parse([]byte(bundleYAML))
	require.NoError(t, err)

	dispatchers, err := eng.ApplyBundle(ctx, bundle)
	require.NoError(t, err)
	require.Contains(t, dispatchers, "inbound")

	// The contract is registered and enforceable.
	result, err := eng.Validate(ctx, "payment",
		map[string]any{"amount": float64(50), "currency": "USD"}, ValidateOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = eng.Validate(ctx, "payment",
		map[string]any{"amount": float64(-1), "currency": "GBP"}, ValidateOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.Violations, 2)

	// The pipeline runs with its declared predicate gating the second step.
	exec, err := eng.Execute(ctx, "checkout",
		map[string]any{"amount": float64(50), "currency": "EUR"}, nil)
	require.NoError(t, err)
	assert.True(t, exec.Success)
	assert.Equal(t, []string{"payment-shape"}, exec.StepsExecuted,
		"the high-value step is skipped for small amounts")

	exec, err = eng.Execute(ctx, "checkout",
		map[string]any{"amount": float64(2000), "currency": "EUR"}, nil)
	require.NoError(t, err)
	assert.True(t, exec.Success)
	assert.Equal(t, []string{"payment-shape", "high-value"}, exec.StepsExecuted)

	// The dispatcher routes and falls back.
	name, err := dispatchers["inbound"].Select(nil, map[string]any{"source": "partner"})
	require.NoError(t, err)
	assert.Equal(t, "payment", name)
}

func TestApplyBundleRejectsBadPredicate(t *testing.T) {
	eng := New(Config{})
	bundle := &config.Bundle{
		Dispatchers: []config.DispatcherSpec{{
			Name:  "broken",
			Rules: []config.RuleSpec{{When: "data.x ==", Contract: "c"}},
		}},
	}
	_, err := eng.ApplyBundle(context.Background(), bundle)
	assert.Error(t, err)
}

func TestApplyBundleRejectsBadContract(t *testing.T) {
	eng := New(Config{})
	bundle := &config.Bundle{
		Contracts: []config.ContractSpec{{Name: "nameless-schema"}},
	}
	_, err := eng.ApplyBundle(context.Background(), bundle)
	assert.Error(t, err)
}
