package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityengine/verity/pkg/domain"
)

func fptr(v float64) *float64 { return &v }

func mustRegister(t *testing.T, eng *Engine, c *domain.Contract) {
	t.Helper()
	_, err := eng.RegisterContract(context.Background(), c)
	require.NoError(t, err)
}

func ageContract() *domain.Contract {
	return &domain.Contract{
		Name: "age-check",
		Schema: &domain.Schema{
			Kind: domain.SchemaObject,
			Fields: map[string]*domain.Schema{
				"age": {Kind: domain.SchemaLeaf, Type: domain.LeafInteger, Min: fptr(18)},
			},
			Required: []string{"age"},
			Unknown:  domain.UnknownAllow,
		},
	}
}

func TestValidateReportsViolationsAsData(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, ageContract())

	result, err := eng.Validate(context.Background(), "age-check",
		map[string]any{"role": "user", "age": float64(16)}, ValidateOptions{})
	require.NoError(t, err, "violations are data, not errors")

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, []string{"age"}, result.Violations[0].Path)
	assert.Equal(t, domain.CodeTooSmall, result.Violations[0].Code)
	assert.Equal(t, ">=18", result.Violations[0].Expected)
	assert.Nil(t, result.Data, "failed validations carry no accepted value")
	assert.NotEmpty(t, result.ExecutionID)
}

func TestValidateSuccessCarriesAcceptedValue(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, &domain.Contract{
		Name: "strip-extras",
		Schema: &domain.Schema{
			Kind: domain.SchemaObject,
			Fields: map[string]*domain.Schema{
				"name": {Kind: domain.SchemaLeaf, Type: domain.LeafString},
			},
			Unknown: domain.UnknownStrip,
		},
	})

	result, err := eng.Validate(context.Background(), "strip-extras",
		map[string]any{"name": "ada", "debug": true}, ValidateOptions{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, map[string]any{"name": "ada"}, result.Data, "undeclared fields are stripped")
	assert.Positive(t, result.Duration)
}

func TestValidateUnknownContract(t *testing.T) {
	eng := New(Config{})
	_, err := eng.Validate(context.Background(), "ghost", nil, ValidateOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownContract)
}

func TestValidateTimeoutLeavesCacheClean(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, ageContract())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := eng.Validate(ctx, "age-check", map[string]any{"age": float64(30)},
		ValidateOptions{Cache: domain.CachePolicy{Enabled: true, TTL: time.Minute}})
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Zero(t, eng.results.Len())
}

func TestValidateCacheReplaysIdenticalResult(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, ageContract())
	payload := map[string]any{"age": float64(30)}
	opts := ValidateOptions{Cache: domain.CachePolicy{Enabled: true, TTL: 50 * time.Millisecond}}

	first, err := eng.Validate(context.Background(), "age-check", payload, opts)
	require.NoError(t, err)

	second, err := eng.Validate(context.Background(), "age-check", payload, opts)
	require.NoError(t, err)
	assert.Equal(t, first.ExecutionID, second.ExecutionID, "a cache hit replays the stored outcome")
	assert.Equal(t, uint64(1), eng.Statistics()["result"].Hits)

	time.Sleep(60 * time.Millisecond)

	third, err := eng.Validate(context.Background(), "age-check", payload, opts)
	require.NoError(t, err)
	assert.NotEqual(t, first.ExecutionID, third.ExecutionID, "past the TTL the contract is re-evaluated")
}

func TestValidateCacheDistinguishesPayloads(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, ageContract())
	opts := ValidateOptions{Cache: domain.CachePolicy{Enabled: true, TTL: time.Minute}}

	ok, err := eng.Validate(context.Background(), "age-check", map[string]any{"age": float64(30)}, opts)
	require.NoError(t, err)
	assert.True(t, ok.Success)

	bad, err := eng.Validate(context.Background(), "age-check", map[string]any{"age": float64(10)}, opts)
	require.NoError(t, err)
	assert.False(t, bad.Success)
	assert.Zero(t, eng.Statistics()["result"].Hits)
}

func TestValidateMissingDependencyIsFatal(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, &domain.Contract{
		Name: "envelope",
		Schema: &domain.Schema{
			Kind:   domain.SchemaObject,
			Fields: map[string]*domain.Schema{"body": {Kind: domain.SchemaRef, Ref: "missing-body"}},
		},
	})

	_, err := eng.Validate(context.Background(), "envelope", map[string]any{}, ValidateOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownContract)
}

// The dispatcher end to end: an expression predicate routes admins to a
// permissive contract while everyone else faces the age check.
func TestDispatchByRoleExpression(t *testing.T) {
	eng := New(Config{})
	mustRegister(t, eng, ageContract())
	mustRegister(t, eng, &domain.Contract{
		Name:   "admin-pass",
		Schema: &domain.Schema{Kind: domain.SchemaObject, Unknown: domain.UnknownAllow},
	})

	isAdmin, err := CompilePredicate(`data.role == "admin"`)
	require.NoError(t, err)

	d := eng.NewDispatcher()
	d.AddRule(domain.ConditionalRule{Predicate: isAdmin, Contract: "admin-pass", Priority: 10})
	d.AddRule(domain.ConditionalRule{Contract: "age-check", Priority: 0})

	admin, err := d.Validate(context.Background(),
		map[string]any{"role": "admin", "age": float64(16)}, nil, ValidateOptions{})
	require.NoError(t, err)
	assert.True(t, admin.Success, "admins bypass the age check entirely")

	user, err := d.Validate(context.Background(),
		map[string]any{"role": "user", "age": float64(16)}, nil, ValidateOptions{})
	require.NoError(t, err)
	assert.False(t, user.Success)
	require.Len(t, user.Violations, 1)
	assert.Equal(t, []string{"age"}, user.Violations[0].Path)
	assert.Equal(t, domain.CodeTooSmall, user.Violations[0].Code)
}

func TestCompilePredicateSyntaxError(t *testing.T) {
	_, err := CompilePredicate(`data.role ==`)
	assert.Error(t, err)
}

func TestCompilePredicateEvalErrorMeansNoMatch(t *testing.T) {
	pred, err := CompilePredicate(`data.n > "x"`)
	require.NoError(t, err)
	assert.False(t, pred(map[string]any{"n": float64(5)}, nil),
		"a predicate that cannot be evaluated matches nothing")
}
