package toolserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airouter/airouter/internal/admission"
	"github.com/airouter/airouter/internal/breaker"
	"github.com/airouter/airouter/internal/cache"
	"github.com/airouter/airouter/internal/executor"
	"github.com/airouter/airouter/internal/fileread"
	"github.com/airouter/airouter/internal/health"
	"github.com/airouter/airouter/internal/learner"
	"github.com/airouter/airouter/internal/pathsafety"
	"github.com/airouter/airouter/internal/registry"
	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/routing"
	"github.com/airouter/airouter/internal/types"
)

// scriptedTestCaller is a minimal stand-in for executor.Caller, scripted
// per endpoint, in the same style as internal/executor's own test fake.
type scriptedTestCaller struct {
	responses map[string]string
	fail      map[string]routerr.Kind
}

func (c *scriptedTestCaller) Call(_ context.Context, ep types.Endpoint, _ []types.ChatMessage, _ int, _ string) (types.EndpointResponse, *routerr.Error) {
	if kind, ok := c.fail[ep.Name]; ok {
		return types.EndpointResponse{}, routerr.New(kind, "scripted failure")
	}
	return types.EndpointResponse{Content: c.responses[ep.Name]}, nil
}

func newTestService(t *testing.T, caller executor.Caller) *Service {
	t.Helper()
	workspace := t.TempDir()

	eps := []types.Endpoint{
		{Name: "local", Priority: 1, Health: types.HealthHealthy, Local: true, MaxContextTokens: 8192, MaxResponseTokens: 1024},
	}
	reg := registry.New(eps)
	brk := breaker.New(breaker.DefaultConfig(), []string{"local"})
	learn := learner.New(learner.DefaultConfig(), nil)
	rtr := routing.New(routing.DefaultConfig(), reg, brk, learn, nil)
	exec := executor.New(executor.DefaultConfig(), brk, learn, caller, nil)
	resolver := pathsafety.New(workspace)
	reader := fileread.New(resolver, nil)
	mon := health.New(health.DefaultConfig(), reg, nil, nil)

	return New(reg, brk, mon, cache.New(cache.DefaultConfig()), learn, rtr, exec, reader, resolver, fileread.DefaultOptions(), nil, nil)
}

func TestService_QueryReturnsContentAndMetadata(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{responses: map[string]string{"local": "hello there"}})

	out, err := svc.Query(context.Background(), QueryInput{Prompt: "please write a function to parse csv"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Content)
	assert.Equal(t, "local", out.RoutingDecision.EndpointUsed)
	assert.Equal(t, MethodDirect, out.RoutingDecision.Method)
	assert.NotEmpty(t, out.Empirical.FingerprintHash)
	assert.GreaterOrEqual(t, out.Performance.TotalMS, int64(0))
}

func TestService_QueryRejectsEmptyPrompt(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{responses: map[string]string{"local": "x"}})
	_, err := svc.Query(context.Background(), QueryInput{})
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindInvalidRequest))
}

func TestService_QuerySecondCallHitsCache(t *testing.T) {
	caller := &scriptedTestCaller{responses: map[string]string{"local": "cached answer"}}
	svc := newTestService(t, caller)

	in := QueryInput{Prompt: "explain how to debug a crash"}
	first, err := svc.Query(context.Background(), in)
	require.NoError(t, err)

	caller.responses["local"] = "different answer, should not be seen"
	second, err := svc.Query(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
}

func TestService_StatusReportsEndpointAndCache(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{responses: map[string]string{"local": "ok"}})
	status := svc.Status(5)
	require.Len(t, status.Endpoints, 1)
	assert.Equal(t, "local", status.Endpoints[0].Name)
	assert.Equal(t, types.BreakerClosed, status.Endpoints[0].BreakerState)
	assert.NotNil(t, status.EmpiricalTopNJSON)
}

func TestService_DiagnoseFileAccessReportsTraversalRejection(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{})
	out := svc.DiagnoseFileAccess("../../etc/passwd")
	assert.False(t, out.WithinRoot)
	assert.NotEmpty(t, out.FailureReason)
}

func TestService_DiagnoseFileAccessReportsReadableFile(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{})
	path := filepath.Join(svc.Resolver.WorkspaceRoot, "hello.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	out := svc.DiagnoseFileAccess("hello.go")
	assert.True(t, out.WithinRoot)
	assert.True(t, out.Readable)
}

func TestService_CompareReportsStructuralDelta(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{})
	root := svc.Resolver.WorkspaceRoot
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\nfunc A() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package b\nfunc B() {}\nfunc C() {}\n"), 0o644))

	out, err := svc.Compare(context.Background(), CompareInput{PathA: "a.go", PathB: "b.go"})
	require.NoError(t, err)
	assert.Equal(t, "go", out.FileA.Language)
	assert.NotZero(t, out.LineCountDelta)
}

func TestService_AnalyzeFilesAttachesQuery(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{responses: map[string]string{"local": "analyzed"}})
	root := svc.Resolver.WorkspaceRoot
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644))

	out, err := svc.AnalyzeFiles(context.Background(), AnalyzeFilesInput{
		Paths:       []string{"main.go"},
		AttachQuery: &QueryInput{Prompt: "summarize this file"},
	})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	require.NotNil(t, out.Query)
	assert.Equal(t, "analyzed", out.Query.Content)
}

func TestService_QueryRejectedWhenAdmissionLimiterIsExhausted(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{responses: map[string]string{"local": "ok"}})
	svc.Admission = admission.New(admission.Config{RequestsPerMinute: 60, BurstSize: 1}, nil)

	_, err := svc.Query(context.Background(), QueryInput{Prompt: "first request consumes the only token"})
	require.NoError(t, err)

	_, err = svc.Query(context.Background(), QueryInput{Prompt: "second request should be rejected"})
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindCapacity))
}

func TestService_QueryWithDeadlineInPastIsCancelledPromptly(t *testing.T) {
	svc := newTestService(t, &scriptedTestCaller{responses: map[string]string{"local": "never seen"}})
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.Query(ctx, QueryInput{Prompt: "hello"})
	require.Error(t, err)
}
