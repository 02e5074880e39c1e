package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"git.wyat.me/zuul-gateway/jobs"
	"git.wyat.me/zuul-gateway/object"
	"git.wyat.me/zuul-gateway/vgit"
)

const seedCommitID = "01decb700d51c68ad7bd7ad486c14dbf79696c3d"

type fakeZuul struct {
	mu        sync.Mutex
	triggered []string
	err       error
	builds    map[string]string
}

func (f *fakeZuul) PullRequestNew(_ context.Context, job string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, job)
	return nil
}

func (f *fakeZuul) LatestBuild(_ context.Context, ref string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.builds[ref]
	return id, ok, nil
}

func (f *fakeZuul) BuildPage(buildUUID string) string {
	return "http://zuul/t/local/build/" + buildUUID
}

type testEnv struct {
	repo *vgit.Store
	jobs *jobs.Table
	zuul *fakeZuul
	srv  *httptest.Server
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	log := logrus.New()
	log.Out = io.Discard
	clock := func() time.Time { return time.Unix(1700000000, 0) }

	repo, err := vgit.New(context.Background(), vgit.WithClock(clock), vgit.WithLogger(log))
	require.NoError(t, err)

	env := &testEnv{
		repo: repo,
		jobs: jobs.NewTable(),
		zuul: &fakeZuul{builds: map[string]string{}},
	}
	s := New(env.repo, env.jobs, env.zuul, WithLogger(log), WithClock(clock), WithHookToken("hook-token"))
	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, env.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHead(t *testing.T) {
	env := setup(t)

	resp, body := env.do(t, http.MethodGet, "/gateway/HEAD", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ref: refs/heads/master", string(body))
}

func TestInfoRefs(t *testing.T) {
	env := setup(t)

	resp, body := env.do(t, http.MethodGet, "/gateway/info/refs?service=git-upload-pack", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, seedCommitID+"\trefs/heads/master\n", string(body))
}

func TestObjects(t *testing.T) {
	env := setup(t)

	prefix, suffix := object.SplitID(seedCommitID)
	resp, body := env.do(t, http.MethodGet, "/gateway/objects/"+prefix+"/"+suffix, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-git-loose-object", resp.Header.Get("Content-Type"))

	want, err := env.repo.GetObject(context.Background(), seedCommitID)
	require.NoError(t, err)
	require.Equal(t, want, body)

	obj, err := object.Deserialize(body)
	require.NoError(t, err)
	require.Equal(t, object.TypeCommit, obj.Type)

	for _, path := range []string{
		"/gateway/objects/00/00000000000000000000000000000000000000",
		"/gateway/objects/info/packs",
		"/gateway/objects/01/short",
	} {
		resp, _ := env.do(t, http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestTriggerAndDeleteJob(t *testing.T) {
	env := setup(t)

	resp, body := env.do(t, http.MethodPost, "/jobs/42", strings.NewReader("[]"), "application/octet-stream")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.JSONEq(t, `{"status": "pending", "conf": []}`, string(body))
	require.Equal(t, []string{"42"}, env.zuul.triggered)

	tip, ok := env.repo.Resolve("pull/42/head")
	require.True(t, ok)
	_, body = env.do(t, http.MethodGet, "/gateway/info/refs", nil, "")
	require.Equal(t, seedCommitID+"\trefs/heads/master\n"+tip+"\trefs/pull/42/head\n", string(body))

	obj, err := env.repo.ReadObject(context.Background(), tip)
	require.NoError(t, err)
	commit, err := object.ParseCommit(obj.Data)
	require.NoError(t, err)
	require.Equal(t, TriggerAuthor, commit.Author)
	require.Equal(t, seedCommitID, commit.Parent)

	_, body = env.do(t, http.MethodGet, "/jobs", nil, "")
	require.JSONEq(t, `{"42": {"status": "pending", "conf": []}}`, string(body))

	_, body = env.do(t, http.MethodGet, "/jobs/42", nil, "")
	require.JSONEq(t, `{"status": "pending", "conf": []}`, string(body))

	resp, body = env.do(t, http.MethodDelete, "/jobs/42", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status": "removed"}`, string(body))

	require.Equal(t, 1, env.repo.NumRefs())
	require.Equal(t, 3, env.repo.NumObjects())
	require.Empty(t, env.jobs.List())
}

func TestTriggerRollsBackWhenZuulFails(t *testing.T) {
	env := setup(t)
	env.zuul.err = errors.New("connection refused")

	resp, body := env.do(t, http.MethodPost, "/jobs/42", strings.NewReader("[]"), "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Contains(t, string(body), "connection refused")

	require.Equal(t, 1, env.repo.NumRefs())
	require.Equal(t, 3, env.repo.NumObjects())
	_, ok := env.jobs.Get("42")
	require.False(t, ok)
}

func TestFailedRetriggerKeepsPreviousJob(t *testing.T) {
	env := setup(t)

	resp, body := env.do(t, http.MethodPost, "/jobs/42", strings.NewReader("[]"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, env.jobs.SetStatus("42", "success"))
	tip, ok := env.repo.Resolve("pull/42/head")
	require.True(t, ok)
	objects := env.repo.NumObjects()

	env.zuul.err = errors.New("connection refused")
	resp, _ = env.do(t, http.MethodPost, "/jobs/42", strings.NewReader("- job: other\n"), "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	job, ok := env.jobs.Get("42")
	require.True(t, ok)
	require.Equal(t, "success", job.Status)
	require.Equal(t, []any{}, job.Conf)

	restored, ok := env.repo.Resolve("pull/42/head")
	require.True(t, ok)
	require.Equal(t, tip, restored)
	require.Equal(t, 2, env.repo.NumRefs())
	require.Equal(t, objects, env.repo.NumObjects())

	_, err := env.repo.ReadObject(context.Background(), tip)
	require.NoError(t, err)
}

func TestTriggerRejectsInvalidConf(t *testing.T) {
	env := setup(t)

	resp, _ := env.do(t, http.MethodPost, "/jobs/42", strings.NewReader("[unterminated"), "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 1, env.repo.NumRefs())
	require.Empty(t, env.zuul.triggered)
}

func TestUnknownJob(t *testing.T) {
	env := setup(t)

	resp, body := env.do(t, http.MethodGet, "/jobs/nope", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{}`, string(body))

	resp, _ = env.do(t, http.MethodDelete, "/jobs/nope", nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPullRequestInfo(t *testing.T) {
	env := setup(t)
	env.jobs.Create("1", []any{})
	env.zuul.builds["refs/pull/2/head"] = "build-uuid"

	resp, body := env.do(t, http.MethodGet, "/gateway/pull-request/1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status": "pending", "conf": []}`, string(body))

	resp, _ = env.do(t, http.MethodGet, "/gateway/pull-request/2", nil, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "http://zuul/t/local/build/build-uuid", resp.Header.Get("Location"))

	resp, _ = env.do(t, http.MethodGet, "/gateway/pull-request/3", nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPullRequestAPI(t *testing.T) {
	env := setup(t)
	env.jobs.Create("7", []any{})

	for _, path := range []string{"", "/diffstats", "/flag"} {
		resp, body := env.do(t, http.MethodGet, "/api/0/gateway/pull-request/7"+path, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.JSONEq(t, `{"status": "Open", "branch": "master", "commit_stop": "7", "flags": null, "zuul.yaml": "yes"}`, string(body))
	}

	form := url.Values{"status": {"success"}}.Encode()
	resp, _ := env.do(t, http.MethodPost, "/api/0/gateway/pull-request/7/flag", strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	form = url.Values{"comment": {"Build succeeded."}}.Encode()
	resp, _ = env.do(t, http.MethodPost, "/api/0/gateway/pull-request/7/comment", strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job, ok := env.jobs.Get("7")
	require.True(t, ok)
	require.Equal(t, "success", job.Status)
	require.Equal(t, "Build succeeded.", job.Comment)

	form = url.Values{"status": {"failure"}}.Encode()
	resp, _ = env.do(t, http.MethodPost, "/api/0/gateway/pull-request/8/flag", strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectAPI(t *testing.T) {
	env := setup(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/0/gateway/git/branches"},
		{http.MethodPost, "/api/0/gateway/connector"},
		{http.MethodPut, "/anything"},
	} {
		resp, body := env.do(t, tc.method, tc.path, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, tc.path)

		var info projectInfo
		require.NoError(t, json.Unmarshal(body, &info))
		require.Equal(t, []string{"master"}, info.Branches)
		require.Equal(t, 1, info.TotalBranches)
		require.Equal(t, "hook-token", info.Connector.HookToken)
		require.Equal(t, []apiToken{{ID: 1, Description: "zuul-token-1700000000"}}, info.Connector.APITokens)
	}
}

func TestMetrics(t *testing.T) {
	env := setup(t)

	env.do(t, http.MethodGet, "/gateway/HEAD", nil, "")
	resp, body := env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "zuul_gateway_http_request_duration_seconds")
	require.Contains(t, string(body), "zuul_gateway_refs")
}
