package tools_test

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/michaelbrown/toolgraph/internal/tools"
)

func newTestAggregator(conn tools.Connector) *tools.Aggregator {
	rec := &delayRecorder{}
	return tools.NewAggregator(tools.NewLoader(conn, hclog.NewNullLogger(), tools.WithWait(rec.wait)), hclog.NewNullLogger())
}

func serverSet(names ...string) *tools.ServerSet {
	s := tools.NewServerSet()
	for _, n := range names {
		s.Set(n, stdioServer(n))
	}
	return s
}

func TestLoadAllEmptySetStartsNoWork(t *testing.T) {
	conn := newFakeConnector(nil)

	got, sum := newTestAggregator(conn).LoadAll(context.Background(), tools.NewServerSet(), tools.DefaultLoadOptions())

	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, conn.TotalAttempts())
	assert.Equal(t, 0, sum.Servers)
	assert.Empty(t, sum.Succeeded)
	assert.Empty(t, sum.Failed)
}

func TestLoadAllPartialFailure(t *testing.T) {
	conn := newFakeConnector(map[string][]step{
		"filesystem":   {{tools: fakeTools("filesystem", "read_file", "write_file", "list_directory")}},
		"brave_search": {{connectErr: errRefused}},
	})

	got, sum := newTestAggregator(conn).LoadAll(context.Background(), serverSet("filesystem", "brave_search"), tools.LoadOptions{Timeout: time.Second, MaxRetries: 2})

	assert.Equal(t, []string{"read_file", "write_file", "list_directory"}, toolNames(got))
	assert.Equal(t, []string{"filesystem"}, sum.Succeeded)
	assert.Equal(t, []string{"brave_search"}, sum.Failed)
	assert.Equal(t, 3, sum.Tools)
	assert.Equal(t, 2, sum.Servers)
	assert.Equal(t, 3, conn.Attempts("brave_search"))
	assert.Equal(t, "loaded 3 tools from 1/2 servers", sum.String())
}

func TestLoadAllMergesInSetOrder(t *testing.T) {
	conn := newFakeConnector(map[string][]step{
		"slow": {{tools: fakeTools("slow", "a", "b"), delay: 50 * time.Millisecond}},
		"fast": {{tools: fakeTools("fast", "c")}},
	})

	got, sum := newTestAggregator(conn).LoadAll(context.Background(), serverSet("slow", "fast"), tools.DefaultLoadOptions())

	assert.Equal(t, []string{"a", "b", "c"}, toolNames(got))
	assert.Equal(t, []string{"slow", "fast"}, sum.Succeeded)
}

func TestLoadAllRunsServersConcurrently(t *testing.T) {
	plans := map[string][]step{}
	names := []string{"s1", "s2", "s3", "s4"}
	for _, n := range names {
		plans[n] = []step{{tools: fakeTools(n, n+"_tool"), delay: 200 * time.Millisecond}}
	}
	conn := newFakeConnector(plans)

	start := time.Now()
	got, _ := newTestAggregator(conn).LoadAll(context.Background(), serverSet(names...), tools.DefaultLoadOptions())

	assert.Len(t, got, 4)
	assert.Less(t, time.Since(start), 700*time.Millisecond)
}

func TestLoadAllCountsEmptyCatalogAsFailed(t *testing.T) {
	conn := newFakeConnector(map[string][]step{
		"empty": {{tools: []tools.Tool{}}},
		"calc":  {{tools: fakeTools("calc", "calculator_tool")}},
	})

	got, sum := newTestAggregator(conn).LoadAll(context.Background(), serverSet("empty", "calc"), tools.DefaultLoadOptions())

	assert.Equal(t, []string{"calculator_tool"}, toolNames(got))
	assert.Equal(t, []string{"calc"}, sum.Succeeded)
	assert.Equal(t, []string{"empty"}, sum.Failed)
	assert.Equal(t, 1, conn.Attempts("empty"), "an empty catalog is not retried")
}

func TestLoadAllTimeoutDoesNotBlockSiblings(t *testing.T) {
	conn := newFakeConnector(map[string][]step{
		"hung": {{hang: true}},
		"ok":   {{tools: fakeTools("ok", "ping")}},
	})

	got, sum := newTestAggregator(conn).LoadAll(context.Background(), serverSet("hung", "ok"), tools.LoadOptions{Timeout: 30 * time.Millisecond, MaxRetries: 1})

	assert.Equal(t, []string{"ping"}, toolNames(got))
	assert.Equal(t, []string{"hung"}, sum.Failed)
	assert.Equal(t, 2, conn.Attempts("hung"))
	assert.Equal(t, 1, conn.Attempts("ok"))
}
