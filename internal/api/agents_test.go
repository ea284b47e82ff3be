package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/storage"
)

// echoWebhook answers every call with {"response": "<agent>: <message> [<file>]"}.
func echoWebhook(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("webhook: parsing multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := r.FormValue("agent") + ": " + r.FormValue("message")
		if f, hdr, err := r.FormFile("files"); err == nil {
			data, _ := io.ReadAll(f)
			f.Close()
			resp += fmt.Sprintf(" [%s:%s]", hdr.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"response": resp})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListAgents_HidesSyntheticData(t *testing.T) {
	env := setupApp(t, nil)
	rr := env.do(authReq(http.MethodGet, "/agents", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var agents []agent.Agent
	decodeBody(t, rr, &agents)
	if len(agents) != 5 {
		t.Fatalf("got %d agents, want 5", len(agents))
	}
	for _, a := range agents {
		if a.ID == "synthetic-data" {
			t.Error("synthetic-data listed while the feature is off")
		}
	}
}

func TestInvoke_JSONAndLastResponse(t *testing.T) {
	hook := echoWebhook(t)
	env := setupApp(t, map[string]string{"user-stories": hook.URL})

	rr := env.do(authReq(http.MethodPost, "/agents/user-stories/invoke", `{"message":"login page"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res agent.Result
	decodeBody(t, rr, &res)
	if res.Response != "user-stories: login page" {
		t.Errorf("Response = %q", res.Response)
	}
	if res.Simulated {
		t.Error("Simulated = true for a healthy webhook")
	}

	rr = env.do(authReq(http.MethodGet, "/agents/user-stories/last", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("last: status = %d", rr.Code)
	}
	var last agent.Result
	decodeBody(t, rr, &last)
	if last.Response != res.Response {
		t.Errorf("last.Response = %q, want %q", last.Response, res.Response)
	}

	rr = env.do(authReq(http.MethodGet, "/interactions", ""))
	var history []storage.Interaction
	decodeBody(t, rr, &history)
	if len(history) != 1 || history[0].AgentID != "user-stories" {
		t.Errorf("interactions = %+v", history)
	}
}

func TestInvoke_MultipartFileWithoutWebhookIsSimulated(t *testing.T) {
	env := setupApp(t, nil)

	req := multipartReq(t, http.MethodPost, "/agents/bug-report/invoke", map[string]string{"message": "crash on save"}, "log.txt", "panic: nil map")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res agent.Result
	decodeBody(t, rr, &res)
	if !res.Simulated {
		t.Error("Simulated = false, want true when no webhook is configured")
	}
	if res.Response == "" {
		t.Error("empty simulated response")
	}
}

func TestInvoke_ValidationErrors(t *testing.T) {
	env := setupApp(t, nil)

	rr := env.do(authReq(http.MethodPost, "/agents/nope/invoke", `{"message":"hi"}`))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown agent: status = %d, want 404", rr.Code)
	}

	rr = env.do(authReq(http.MethodPost, "/agents/user-stories/invoke", `{"message":"  "}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty input: status = %d, want 400", rr.Code)
	}
	var body map[string]map[string]string
	decodeBody(t, rr, &body)
	if body["error"]["type"] != "invalid_request_error" {
		t.Errorf("error type = %q", body["error"]["type"])
	}

	rr = env.do(authReq(http.MethodPost, "/agents/user-stories/invoke", `{bad json`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rr.Code)
	}
}

func TestAttachAndDetachFile(t *testing.T) {
	hook := echoWebhook(t)
	env := setupApp(t, map[string]string{"test-cases": hook.URL})

	rr := env.do(multipartReq(t, http.MethodPut, "/agents/test-cases/file", nil, "stories.md", "As a user..."))
	if rr.Code != http.StatusOK {
		t.Fatalf("attach: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var a agent.Agent
	decodeBody(t, rr, &a)
	if a.File == nil || a.File.Name != "stories.md" {
		t.Fatalf("attached file = %+v", a.File)
	}

	// The attached file is sent with a later invocation.
	rr = env.do(authReq(http.MethodPost, "/agents/test-cases/invoke", `{"message":"cover it"}`))
	var res agent.Result
	decodeBody(t, rr, &res)
	if !strings.Contains(res.Response, "[stories.md:As a user...]") {
		t.Errorf("Response = %q, want attached file echoed", res.Response)
	}

	rr = env.do(authReq(http.MethodDelete, "/agents/test-cases/file", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("detach: status = %d", rr.Code)
	}
	if got, _ := env.deps.Invoker.Registry().Get("test-cases"); got.File != nil {
		t.Error("file still attached after detach")
	}

	rr = env.do(multipartReq(t, http.MethodPut, "/agents/test-cases/file", nil, "", ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("attach without file: status = %d, want 400", rr.Code)
	}
}

func TestRunChain_JSON(t *testing.T) {
	hook := echoWebhook(t)
	env := setupApp(t, map[string]string{
		"user-stories":        hook.URL,
		"acceptance-criteria": hook.URL,
	})

	body := `{"agents":["user-stories","acceptance-criteria"],"seed":{"name":"req.txt","content":"checkout flow"}}`
	rr := env.do(authReq(http.MethodPost, "/chain", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var run agent.ChainRun
	decodeBody(t, rr, &run)
	if len(run.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(run.Results))
	}
	// Step 2 receives step 1's response as user-stories-output.txt.
	if !strings.Contains(run.Results[1].Response, "[user-stories-output.txt:"+run.Results[0].Response+"]") {
		t.Errorf("step 2 response = %q, want step 1 output piped as a file", run.Results[1].Response)
	}
	if !strings.Contains(run.Output, "## Step 2: ") {
		t.Errorf("Output missing step heading: %q", run.Output)
	}

	rr = env.do(authReq(http.MethodGet, "/chain", ""))
	var last agent.ChainRun
	decodeBody(t, rr, &last)
	if len(last.Results) != 2 {
		t.Errorf("GET /chain results = %d, want 2", len(last.Results))
	}
}

func TestRunChain_MultipartCommaSeparated(t *testing.T) {
	env := setupApp(t, nil)
	req := multipartReq(t, http.MethodPost, "/chain",
		map[string]string{"agents": "user-stories, test-cases,bug-report"}, "req.md", "# Requirements")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var run agent.ChainRun
	decodeBody(t, rr, &run)
	if len(run.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(run.Results))
	}
	for _, r := range run.Results {
		if !r.Simulated {
			t.Errorf("step %d not simulated without webhooks", r.Step)
		}
	}
}

func TestRunChain_Validation(t *testing.T) {
	env := setupApp(t, nil)

	rr := env.do(authReq(http.MethodPost, "/chain", `{"agents":["user-stories"],"seed":{"content":"x"}}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("one agent: status = %d, want 400", rr.Code)
	}
	rr = env.do(authReq(http.MethodPost, "/chain", `{"agents":["user-stories","test-cases"]}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("no seed: status = %d, want 400", rr.Code)
	}
	rr = env.do(authReq(http.MethodPost, "/chain", `{"agents":["user-stories","ghost"],"seed":{"content":"x"}}`))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown agent: status = %d, want 404", rr.Code)
	}
}

func TestExport_TableToXLSX(t *testing.T) {
	env := setupApp(t, nil)

	body, _ := json.Marshal(map[string]string{
		"agent_id": "test-cases",
		"content":  "| id | step |\n|---|---|\n| TC-1 | open app |",
	})
	rr := env.do(authReq(http.MethodPost, "/export", string(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Export-Format"); got != "xlsx" {
		t.Errorf("X-Export-Format = %q, want xlsx", got)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, ".xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(rr.Body.String(), "PK") {
		t.Error("body is not a zip container")
	}
}

func TestExport_LastResponseAndChain(t *testing.T) {
	env := setupApp(t, nil)

	rr := env.do(authReq(http.MethodPost, "/export", `{"agent_id":"user-stories"}`))
	if rr.Code != http.StatusNotFound {
		t.Errorf("no last response: status = %d, want 404", rr.Code)
	}

	env.do(authReq(http.MethodPost, "/agents/user-stories/invoke", `{"message":"profile page"}`))
	rr = env.do(authReq(http.MethodPost, "/export", `{"agent_id":"user-stories"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("export last: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Export-Format"); got != "docx" {
		t.Errorf("X-Export-Format = %q, want docx", got)
	}

	rr = env.do(authReq(http.MethodPost, "/export", `{"source":"chain"}`))
	if rr.Code != http.StatusNotFound {
		t.Errorf("no chain: status = %d, want 404", rr.Code)
	}
	env.do(authReq(http.MethodPost, "/chain", `{"agents":["user-stories","test-scripts"],"seed":{"content":"x"}}`))
	rr = env.do(authReq(http.MethodPost, "/export", `{"source":"chain"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("export chain: status = %d", rr.Code)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "chain-") {
		t.Errorf("Content-Disposition = %q, want chain file name", cd)
	}

	rr = env.do(authReq(http.MethodPost, "/export", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty request: status = %d, want 400", rr.Code)
	}
}
