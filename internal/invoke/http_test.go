package invoke

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_Invoke(t *testing.T) {
	var gotRequest httpRequest
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Gate-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		_ = json.NewEncoder(w).Encode(httpResponse{
			Status: "success",
			Result: map[string]any{"rows": []any{map[string]any{"id": "r1"}}},
		})
	}))
	defer server.Close()

	h := HTTP{URL: server.URL, Headers: map[string]string{"X-Gate-Token": "t-1"}}
	result, err := h.Invoke(context.Background(), "get-dataset-rows", map[string]any{"dataset": "governance-procedures"})
	require.NoError(t, err)

	assert.Equal(t, "get-dataset-rows", gotRequest.Tool)
	assert.Equal(t, "governance-procedures", gotRequest.Arguments["dataset"])
	assert.Equal(t, "t-1", gotHeader)
	assert.NotEmpty(t, result["rows"])
}

func TestHTTP_InvokeBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(httpResponse{Status: "error", Error: "dataset not found"})
	}))
	defer server.Close()

	_, err := HTTP{URL: server.URL}.Invoke(context.Background(), "get-dataset", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset not found")
}

func TestHTTP_InvokeHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := HTTP{URL: server.URL}.Invoke(context.Background(), "get-dataset", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTP_InvokeEmptyURL(t *testing.T) {
	_, err := HTTP{}.Invoke(context.Background(), "get-dataset", nil)
	assert.Error(t, err)
}

func TestRouter_Dispatch(t *testing.T) {
	record := func(hits *[]string, name string) Invoker {
		return invokerStub(func(context.Context, string, map[string]any) (map[string]any, error) {
			*hits = append(*hits, name)
			return map[string]any{}, nil
		})
	}

	var hits []string
	r := Router{
		Routes:  map[string]Invoker{"create-dataset": record(&hits, "route")},
		Default: record(&hits, "default"),
	}

	_, err := r.Invoke(context.Background(), "create-dataset", nil)
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), "get-datasets", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"route", "default"}, hits)

	_, err = Router{}.Invoke(context.Background(), "get-datasets", nil)
	assert.Error(t, err)
}

type invokerStub func(ctx context.Context, tool string, args map[string]any) (map[string]any, error)

func (f invokerStub) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	return f(ctx, tool, args)
}

func TestRowSource_FetchRows(t *testing.T) {
	var sawSystemOp bool
	src := RowSource{
		Invoker: invokerStub(func(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
			sawSystemOp = IsSystemOperation(ctx)
			assert.Equal(t, "get-dataset-rows", tool)
			assert.Equal(t, "governance-procedures", args["dataset"])
			return map[string]any{"rows": []any{
				map[string]any{"id": "PROC-1"},
				"not-a-row",
			}}, nil
		}),
	}

	rows, err := src.FetchRows(context.Background(), "governance-procedures")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PROC-1", rows[0]["id"])
	assert.True(t, sawSystemOp, "loader reads must carry the internal marker")
}

func TestSystemOperationMarker(t *testing.T) {
	assert.False(t, IsSystemOperation(context.Background()))
	assert.True(t, IsSystemOperation(WithSystemOperation(context.Background())))
}
