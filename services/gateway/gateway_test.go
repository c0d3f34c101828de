// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Tideflow/pkg/extensions"
	"github.com/AleutianAI/Tideflow/services/pipeline"
	"github.com/AleutianAI/Tideflow/services/storage/badger"
)

// ===== Test fixtures =====

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubUnit is a scriptable work unit for wiring small test graphs.
type stubUnit struct {
	pipeline.BaseUnit
	run func(ctx context.Context, st *pipeline.State) (*pipeline.State, error)
}

func (u *stubUnit) Execute(ctx context.Context, st *pipeline.State) (*pipeline.State, error) {
	if u.run != nil {
		return u.run(ctx, st)
	}
	st.SetOutput(u.ID(), "ok")
	return st, nil
}

// newTestServer wires a gateway over a three-unit graph: a source that
// echoes the signal, a scriptable scoring stage, and a sink. A nil
// score func just records an output and succeeds.
func newTestServer(t *testing.T, cfg Config, hub *Hub,
	score func(ctx context.Context, st *pipeline.State) (*pipeline.State, error)) *Server {

	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := badger.Open(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	results, err := badger.NewResultStore(db, testLogger())
	require.NoError(t, err)
	verdicts, err := badger.NewVerdictStore(db, testLogger())
	require.NoError(t, err)

	reg := pipeline.NewRegistry()
	require.NoError(t, reg.Register(&stubUnit{
		BaseUnit: pipeline.BaseUnit{UnitID: "signal_ingress", UnitCategory: pipeline.CategorySource},
		run: func(_ context.Context, st *pipeline.State) (*pipeline.State, error) {
			st.SetOutput("signal_ingress", st.Raw)
			return st, nil
		},
	}))
	require.NoError(t, reg.Register(&stubUnit{
		BaseUnit: pipeline.BaseUnit{UnitID: "score", UnitCategory: pipeline.CategoryRequired},
		run:      score,
	}))
	require.NoError(t, reg.Register(&stubUnit{
		BaseUnit: pipeline.BaseUnit{UnitID: "emit", UnitCategory: pipeline.CategorySink},
	}))

	builder := pipeline.NewBuilder(reg)
	build := builder.BuildFromConfig(&pipeline.PipelineConfig{
		OwnerID: "gateway-test",
		Version: "1",
		Nodes: []pipeline.NodeSpec{
			{ID: "signal_ingress", Category: pipeline.CategorySource, Ref: "signal_ingress", Enabled: true},
			{ID: "score", Category: pipeline.CategoryRequired, Ref: "score", Enabled: true},
			{ID: "emit", Category: pipeline.CategorySink, Ref: "emit", Enabled: true, DependsOn: []string{"score"}},
		},
	})
	require.True(t, build.Success, "graph build errors: %v", build.Errors)

	srv, err := NewServer(cfg, Deps{
		Engine:   pipeline.NewEngine(testLogger()),
		Builder:  builder,
		Results:  results,
		Verdicts: verdicts,
		Hub:      hub,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	srv.SetGraph(build.Graph)
	return srv
}

// performJSON runs one request through the router and returns the
// recorder.
func performJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func writePipelineYAML(t *testing.T, path, ownerID string) {
	t.Helper()
	doc := fmt.Sprintf(`owner_id: %s
version: "1"
nodes:
  - id: signal_ingress
    category: source
    ref: signal_ingress
    enabled: true
  - id: score
    category: required
    ref: score
    enabled: true
  - id: emit
    category: sink
    ref: emit
    enabled: true
    depends_on: [score]
`, ownerID)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

// ===== Construction =====

func TestNewServer_Validation(t *testing.T) {
	engine := pipeline.NewEngine(testLogger())
	builder := pipeline.NewBuilder(pipeline.NewRegistry())

	_, err := NewServer(DefaultConfig(), Deps{Builder: builder})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")

	_, err = NewServer(DefaultConfig(), Deps{Engine: engine})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "builder")

	// Zero rate limits take the defaults.
	srv, err := NewServer(Config{}, Deps{Engine: engine, Builder: builder, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().IngestRPS, srv.cfg.IngestRPS)
	assert.Equal(t, DefaultConfig().IngestBurst, srv.cfg.IngestBurst)

	// Nil options select the no-op extension defaults.
	_, ok := srv.auth.(*extensions.NopAuthProvider)
	assert.True(t, ok)
	_, ok = srv.audit.(*extensions.NopAuditLogger)
	assert.True(t, ok)

	// Injected options flow through.
	opts := extensions.DefaultOptions().WithAuth(&stubAuth{})
	srv, err = NewServer(Config{}, Deps{Engine: engine, Builder: builder, Logger: testLogger(), Options: &opts})
	require.NoError(t, err)
	_, ok = srv.auth.(*stubAuth)
	assert.True(t, ok)
}

// ===== Pipeline config loading =====

func TestLoadPipelineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	writePipelineYAML(t, path, "load-test")

	cfg, err := LoadPipelineFile(path)
	require.NoError(t, err)
	assert.Equal(t, "load-test", cfg.OwnerID)
	require.Len(t, cfg.Nodes, 3)
	assert.Equal(t, pipeline.CategorySource, cfg.Nodes[0].Category)
	assert.Equal(t, []string{"score"}, cfg.Nodes[2].DependsOn)
}

func TestLoadPipelineFile_Missing(t *testing.T) {
	_, err := LoadPipelineFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadPipelineFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes: [unclosed"), 0o644))

	_, err := LoadPipelineFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoadPipelineFile_NoNodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("owner_id: empty\nversion: \"1\"\n"), 0o644))

	_, err := LoadPipelineFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nodes")
}

// ===== Hot reload =====

func TestReloadPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	writePipelineYAML(t, path, "first")

	cfg := DefaultConfig()
	cfg.PipelinePath = path
	srv := newTestServer(t, cfg, NewHub(testLogger()), nil)

	require.NoError(t, srv.ReloadPipeline())
	require.NotNil(t, srv.Graph())
	assert.Equal(t, "first", srv.Graph().OwnerID)

	// A broken file keeps the last good graph serving.
	require.NoError(t, os.WriteFile(path, []byte("nodes: [broken"), 0o644))
	require.Error(t, srv.ReloadPipeline())
	assert.Equal(t, "first", srv.Graph().OwnerID)
}

func TestPipelineWatcher_RequiresPath(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), NewHub(testLogger()), nil)
	_, err := NewPipelineWatcher(srv)
	require.Error(t, err)
}

func TestPipelineWatcher_HotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	writePipelineYAML(t, path, "first")

	cfg := DefaultConfig()
	cfg.PipelinePath = path
	srv := newTestServer(t, cfg, NewHub(testLogger()), nil)
	require.NoError(t, srv.ReloadPipeline())
	require.Equal(t, "first", srv.Graph().OwnerID)

	watcher, err := NewPipelineWatcher(srv)
	require.NoError(t, err)
	t.Cleanup(watcher.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, watcher.Start(ctx))

	writePipelineYAML(t, path, "second")

	require.Eventually(t, func() bool {
		g := srv.Graph()
		return g != nil && g.OwnerID == "second"
	}, 5*time.Second, 50*time.Millisecond)
}

// ===== Health =====

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), NewHub(testLogger()), nil)

	rec := performJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["graphLoaded"])
	assert.EqualValues(t, 0, body["activeRuns"])
}
