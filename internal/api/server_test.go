package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mallardlabs/mallard/internal/api"
	"github.com/mallardlabs/mallard/internal/manager"
	"github.com/mallardlabs/mallard/internal/model"
	"github.com/mallardlabs/mallard/internal/processor"
)

type stubProc struct {
	typ   model.JobType
	diags []model.Diagnostic
	err   error
}

func (p *stubProc) Type() model.JobType { return p.typ }

func (p *stubProc) Run(ctx context.Context, code string, opts model.FilterOptions) ([]model.Diagnostic, error) {
	if p.err != nil {
		return nil, p.err
	}
	return model.Filter(p.diags, opts), nil
}

func newTestServer(t *testing.T, procs ...processor.Processor) (*httptest.Server, *manager.Manager) {
	t.Helper()
	m := manager.New(processor.NewRegistry(procs...))
	srv := httptest.NewServer(api.New(m, "").Router())
	t.Cleanup(func() {
		m.Wait()
		srv.Close()
	})
	return srv, m
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSubmitAndGet(t *testing.T) {
	t.Parallel()

	diags := []model.Diagnostic{{Severity: model.SeverityError, Line: 2, Column: 5, Message: "undefined name", Code: "E0602"}}
	srv, m := newTestServer(t, &stubProc{typ: model.JobTypeLint, diags: diags})

	resp := postJSON(t, srv.URL+"/v1/jobs", `{"code": "x = 1\nz = y\n", "job_types": ["lint"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &submitted)
	require.NotEmpty(t, submitted.JobID)
	require.Equal(t, "accepted", submitted.Status)

	m.Wait()

	resp, err := http.Get(srv.URL + "/v1/jobs/" + submitted.JobID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job struct {
		JobID          string                               `json:"job_id"`
		Status         model.JobStatus                      `json:"status"`
		RequestedTypes []model.JobType                      `json:"requested_types"`
		Results        map[model.JobType][]model.Diagnostic `json:"results"`
		Error          string                               `json:"error"`
	}
	decodeBody(t, resp, &job)
	require.Equal(t, submitted.JobID, job.JobID)
	require.Equal(t, model.StatusCompleted, job.Status)
	require.Equal(t, []model.JobType{model.JobTypeLint}, job.RequestedTypes)
	require.Equal(t, diags, job.Results[model.JobTypeLint])
	require.Empty(t, job.Error)
}

func TestGetFailedJob(t *testing.T) {
	t.Parallel()

	srv, m := newTestServer(t, &stubProc{typ: model.JobTypeLint, err: errors.New("tool exploded")})

	resp := postJSON(t, srv.URL+"/v1/jobs", `{"code": "x = 1\n", "job_types": ["lint"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, resp, &submitted)
	m.Wait()

	resp, err := http.Get(srv.URL + "/v1/jobs/" + submitted.JobID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job struct {
		Status model.JobStatus `json:"status"`
		Error  string          `json:"error"`
	}
	decodeBody(t, resp, &job)
	require.Equal(t, model.StatusFailed, job.Status)
	require.Contains(t, job.Error, "tool exploded")
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProc{typ: model.JobTypeLint})

	cases := []struct {
		scenario string
		body     string
	}{
		{"not_json", `{{{`},
		{"empty_code", `{"code": "", "job_types": ["lint"]}`},
		{"no_types", `{"code": "x = 1\n", "job_types": []}`},
		{"unknown_type", `{"code": "x = 1\n", "job_types": ["fuzzing"]}`},
		{"unregistered_type", `{"code": "x = 1\n", "job_types": ["basedpyright"]}`},
		{"bad_severity", `{"code": "x = 1\n", "job_types": ["lint"], "options": {"min_severity": "catastrophic"}}`},
		{"negative_top_n", `{"code": "x = 1\n", "job_types": ["lint"], "options": {"top_n": -2}}`},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/jobs", tc.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body struct {
				Error string `json:"error"`
			}
			decodeBody(t, resp, &body)
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestGetUnknownJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProc{typ: model.JobTypeLint})

	resp, err := http.Get(srv.URL + "/v1/jobs/no-such-id")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestListAndStats(t *testing.T) {
	t.Parallel()

	srv, m := newTestServer(t,
		&stubProc{typ: model.JobTypeLint},
		&stubProc{typ: model.JobTypeStaticAnalysis},
	)

	resp := postJSON(t, srv.URL+"/v1/jobs", `{"code": "x = 1\n", "job_types": ["lint"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	resp = postJSON(t, srv.URL+"/v1/jobs", `{"code": "x = 1\n", "job_types": ["static_analysis"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	m.Wait()

	resp, err := http.Get(srv.URL + "/v1/jobs?type=lint")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Jobs []model.Summary `json:"jobs"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Jobs, 1)
	require.Equal(t, []model.JobType{model.JobTypeLint}, list.Jobs[0].RequestedTypes)

	resp, err = http.Get(srv.URL + "/v1/jobs?type=bogus")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats model.Stats
	decodeBody(t, resp, &stats)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.ByStatus[model.StatusCompleted])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProc{typ: model.JobTypeLint})

	resp, err := http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestRunGracefulShutdown(t *testing.T) {
	t.Parallel()

	m := manager.New(processor.NewRegistry(&stubProc{typ: model.JobTypeLint}))
	srv := api.New(m, "127.0.0.1:0")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
