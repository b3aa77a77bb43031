package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/verityengine/verity/pkg/domain"
)

func always(any, domain.Context) bool { return true }
func never(any, domain.Context) bool  { return false }

func TestSelectHighestPriorityWins(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "low", Priority: 1})
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "high", Priority: 10})
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "mid", Priority: 5})

	name, err := d.Select(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "high", name)
}

func TestSelectSkipsNonMatching(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.AddRule(domain.ConditionalRule{Predicate: never, Contract: "top", Priority: 10})
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "fallback-rule", Priority: 1})

	name, err := d.Select(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback-rule", name)
}

func TestSelectTieBreaksOnInsertionOrder(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "first", Priority: 5})
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "second", Priority: 5})

	name, err := d.Select(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", name, "among equal priorities the first rule added wins")
}

func TestSelectDefaultContract(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.AddRule(domain.ConditionalRule{Predicate: never, Contract: "unreachable", Priority: 1})

	_, err := d.Select(nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoMatchingRule)

	d.SetDefaultContract("fallback")
	name, err := d.Select(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", name)
}

func TestNilPredicateAlwaysMatches(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.AddRule(domain.ConditionalRule{Contract: "catch-all", Priority: 0})

	name, err := d.Select(map[string]any{"anything": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "catch-all", name)
}

func TestPredicateReceivesDataAndContext(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.AddRule(domain.ConditionalRule{
		Predicate: func(data any, vctx domain.Context) bool {
			payload, _ := data.(map[string]any)
			return payload["kind"] == "order" && vctx["tenant"] == "acme"
		},
		Contract: "order-contract",
		Priority: 1,
	})
	d.SetDefaultContract("generic")

	name, err := d.Select(map[string]any{"kind": "order"}, domain.Context{"tenant": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "order-contract", name)

	name, err = d.Select(map[string]any{"kind": "order"}, domain.Context{"tenant": "other"})
	require.NoError(t, err)
	assert.Equal(t, "generic", name)
}

func TestResolveBumpsUsage(t *testing.T) {
	eng := New(Config{})
	ctx := context.Background()
	_, err := eng.RegisterContract(ctx, &domain.Contract{
		Name:   "target",
		Schema: &domain.Schema{Kind: domain.SchemaLeaf, Type: domain.LeafAny},
	})
	require.NoError(t, err)

	d := eng.NewDispatcher()
	d.AddRule(domain.ConditionalRule{Predicate: always, Contract: "target", Priority: 1})

	contract, info, err := d.Resolve(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "target", contract.Name)
	assert.Equal(t, int64(1), info.UsageCount)
}

func TestConcurrentAddRuleAndSelect(t *testing.T) {
	d := New(Config{}).NewDispatcher()
	d.SetDefaultContract("fallback")

	valid := make(map[string]bool, 65)
	valid["fallback"] = true
	for i := 0; i < 64; i++ {
		valid[fmt.Sprintf("contract-%d", i)] = true
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 64; i++ {
			d.AddRule(domain.ConditionalRule{
				Predicate: always,
				Contract:  fmt.Sprintf("contract-%d", i),
				Priority:  i % 7,
			})
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				name, err := d.Select(nil, nil)
				assert.NoError(t, err)
				assert.True(t, valid[name], "selected %q, not a registered contract", name)
			}
		}()
	}
	wg.Wait()
}

func TestPriorityDeterminismUnderShuffledInsertion(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "rules")
		priorities := rapid.SliceOfNDistinct(rapid.IntRange(-50, 50), n, n, rapid.ID[int]).Draw(t, "priorities")

		rules := make([]domain.ConditionalRule, n)
		best := 0
		for i, p := range priorities {
			rules[i] = domain.ConditionalRule{
				Predicate: always,
				Contract:  fmt.Sprintf("contract-%d", i),
				Priority:  p,
			}
			if p > priorities[best] {
				best = i
			}
		}
		want := rules[best].Contract

		order := rapid.Permutation(rules).Draw(t, "order")
		d := New(Config{}).NewDispatcher()
		for _, rule := range order {
			d.AddRule(rule)
		}

		got, err := d.Select(nil, nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if got != want {
			t.Fatalf("picked %q, want highest-priority %q", got, want)
		}
	})
}
