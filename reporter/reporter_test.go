package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cogniforge/qpipeline/core"
)

func TestReportRunReturnsIDOnCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Service-Key") != "secret-key" {
			t.Errorf("expected service key header, got %q", req.Header.Get("X-Service-Key"))
		}
		var got Payload
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if got.ExitCode != 0 {
			t.Errorf("expected exit_code 0, got %d", got.ExitCode)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run-123"})
	}))
	defer srv.Close()

	r := New(srv.URL, "secret-key", 2*time.Second, core.NoOpLogger{})
	id := r.ReportRun(context.Background(), Payload{ExitCode: 0, Status: core.StatusSuccess})
	if id == nil || *id != "run-123" {
		t.Fatalf("expected run id 'run-123', got %v", id)
	}
}

func TestReportRunReturnsNilOnNon201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(srv.URL, "secret-key", 2*time.Second, core.NoOpLogger{})
	id := r.ReportRun(context.Background(), Payload{ExitCode: 0})
	if id != nil {
		t.Fatal("expected nil run id on non-201 response")
	}
}

func TestReportRunReturnsNilWhenUnreachable(t *testing.T) {
	r := New("http://127.0.0.1:1", "secret-key", 500*time.Millisecond, core.NoOpLogger{})
	id := r.ReportRun(context.Background(), Payload{ExitCode: 0})
	if id != nil {
		t.Fatal("expected nil run id when endpoint is unreachable")
	}
}

func TestReportRunSkipsWhenNoEndpointConfigured(t *testing.T) {
	r := New("", "secret-key", time.Second, core.NoOpLogger{})
	id := r.ReportRun(context.Background(), Payload{ExitCode: 0})
	if id != nil {
		t.Fatal("expected nil run id when no endpoint is configured")
	}
}

func TestBuildPayloadDerivesStatusFromExitCode(t *testing.T) {
	cases := map[core.ExitCode]core.RunStatus{
		core.ExitSuccess:        core.StatusSuccess,
		core.ExitPartialFailure: core.StatusPartialFailure,
		core.ExitConfigError:    core.StatusFailed,
		core.ExitNoQuestions:    core.StatusFailed,
		core.ExitDatabaseError:  core.StatusFailed,
		core.ExitOtherFatal5:    core.StatusFailed,
		core.ExitOtherFatal6:    core.StatusFailed,
	}
	for code, want := range cases {
		summary := core.RunSummary{QuestionsRequested: 10, QuestionsInserted: 10}
		p := BuildPayload(summary, code)
		if p.Status != want {
			t.Errorf("BuildPayload(exit=%d).Status = %q, want %q", code, p.Status, want)
		}
		if p.ExitCode != int(code) {
			t.Errorf("BuildPayload(exit=%d).ExitCode = %d, want %d", code, p.ExitCode, code)
		}
	}
}

func TestBuildPayloadCanonicalizesTypeAndDifficultyCountsPreservingUnknownKeys(t *testing.T) {
	summary := core.RunSummary{
		TypeMetrics:       map[string]int{"Pattern": 2, "mystery-type": 1},
		DifficultyMetrics: map[string]int{"Easy": 3, "mystery-level": 1},
	}
	p := BuildPayload(summary, core.ExitSuccess)
	if p.TypeMetrics["pattern"] != 2 {
		t.Fatalf("expected canonicalized 'pattern' count, got %+v", p.TypeMetrics)
	}
	if p.TypeMetrics["mystery-type"] != 1 {
		t.Fatal("expected unknown type key to be preserved, not dropped")
	}
	if p.DifficultyMetrics["easy"] != 3 {
		t.Fatalf("expected canonicalized 'easy' count, got %+v", p.DifficultyMetrics)
	}
	if p.DifficultyMetrics["mystery-level"] != 1 {
		t.Fatal("expected unknown difficulty key to be preserved, not dropped")
	}
}

func TestBuildPayloadCarriesArbiterScoreStats(t *testing.T) {
	summary := core.RunSummary{ArbiterScores: []float64{0.5, 0.9, 0.7}}
	p := BuildPayload(summary, core.ExitSuccess)
	if p.MinArbiterScore != 0.5 || p.MaxArbiterScore != 0.9 {
		t.Fatalf("unexpected arbiter score bounds: min=%v max=%v", p.MinArbiterScore, p.MaxArbiterScore)
	}
	if p.AvgArbiterScore <= 0.5 || p.AvgArbiterScore >= 0.9 {
		t.Fatalf("expected avg arbiter score between bounds, got %v", p.AvgArbiterScore)
	}
}
