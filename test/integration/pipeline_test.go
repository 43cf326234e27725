package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var downloadLink = regexp.MustCompile(`href="(/reports/[0-9a-f-]{36}/download\?token=[^"]+)"`)

func submitForm(t *testing.T, values url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := client().PostForm(globalEnv.HTTP.URL+"/reports", values)
	if err != nil {
		t.Fatalf("POST /reports: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func formValues(name string) url.Values {
	return url.Values{
		"patient_name":        {name},
		"identifier":          {"12345678"},
		"sample_date":         {"2026-03-13"},
		"sample_time":         {"08:30"},
		"laboratory":          {"Central Lab"},
		"validator":           {"Dr. Ruiz"},
		"cholesterol":         {"230"},
		"hdl":                 {"50"},
		"ldl":                 {"120"},
		"triglycerides":       {"150"},
		"glucose":             {"95"},
		"insulin":             {"10,0"},
		"vital_signs":         {"BP 120/80"},
		"complementary_exams": {""},
	}
}

func extractLink(t *testing.T, body string) string {
	t.Helper()
	m := downloadLink.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no download link in result page:\n%s", body)
	}
	return html.UnescapeString(m[1])
}

func download(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := client().Get(globalEnv.HTTP.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestPipeline_FormToDownload(t *testing.T) {
	resp, body := submitForm(t, formValues("José Núñez"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d:\n%s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "elevated cardiovascular risk (Castelli)") {
		t.Error("expected Castelli comment on the result page")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}

	link := extractLink(t, body)
	resp, pdf := download(t, link)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, pdf)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "metabolic_panel_Jos") {
		t.Errorf("unexpected disposition %q", cd)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Error("expected PDF bytes")
	}

	// Downloads are repeatable until the link expires.
	if resp, _ := download(t, link); resp.StatusCode != http.StatusOK {
		t.Errorf("expected second download to succeed, got %d", resp.StatusCode)
	}
}

func TestPipeline_ArtifactsSealedOnDisk(t *testing.T) {
	resp, body := submitForm(t, formValues("Ana Perez"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	link := extractLink(t, body)
	id := strings.Split(link, "/")[2]

	onDisk, err := os.ReadFile(filepath.Join(globalEnv.ReportDir, id+".blob"))
	if err != nil {
		t.Fatalf("artifact not on disk: %v", err)
	}
	if bytes.HasPrefix(onDisk, []byte("%PDF-")) {
		t.Error("expected artifact to be sealed at rest")
	}
	if bytes.Contains(onDisk, []byte("Ana Perez")) {
		t.Error("patient name readable on disk")
	}
}

func TestPipeline_SameNameTwice(t *testing.T) {
	_, first := submitForm(t, formValues("Juan Gomez"))
	_, second := submitForm(t, formValues("Juan Gomez"))

	a, b := extractLink(t, first), extractLink(t, second)
	if a == b {
		t.Fatal("expected distinct links for the same patient name")
	}
	for _, link := range []string{a, b} {
		if resp, _ := download(t, link); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", link, resp.StatusCode)
		}
	}
}

func TestPipeline_ValidationKeepsInput(t *testing.T) {
	values := formValues("Ana Perez")
	values.Set("hdl", "fifty")

	resp, body := submitForm(t, values)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `value="fifty"`) {
		t.Error("expected the rejected value to be kept")
	}
	if downloadLink.MatchString(body) {
		t.Error("no download link may be offered")
	}
}

func TestPipeline_DownloadRejections(t *testing.T) {
	_, body := submitForm(t, formValues("Ana Perez"))
	link := extractLink(t, body)
	id := strings.Split(link, "/")[2]

	tests := []struct {
		name string
		path string
		want int
	}{
		{"no token", "/reports/" + id + "/download", http.StatusForbidden},
		{"tampered token", link + "x", http.StatusForbidden},
		{"script in query", "/reports/" + id + "/download?token=%3Cscript%3E", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := download(t, tt.path)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
			if bytes.HasPrefix(body, []byte("%PDF-")) {
				t.Error("PDF served without a valid token")
			}
		})
	}
}

func TestPipeline_SweptArtifactIsGone(t *testing.T) {
	_, body := submitForm(t, formValues("Ana Perez"))
	link := extractLink(t, body)

	if _, err := globalEnv.Server.Store.Sweep(context.Background(), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if resp, _ := download(t, link); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after sweep, got %d", resp.StatusCode)
	}
}

func TestPipeline_IndicesAPI(t *testing.T) {
	payload := `{"cholesterol":200,"hdl":"50","ldl":"120","triglycerides":"150","glucose":"101,25","insulin":"10"}`
	resp, err := client().Post(globalEnv.HTTP.URL+"/api/v1/metabolic-panel/indices", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got struct {
		Indices []struct {
			Name     string  `json:"name"`
			Value    float64 `json:"value"`
			Elevated bool    `json:"elevated"`
		} `json:"indices"`
		Comments []string `json:"comments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Indices) != 4 || got.Indices[3].Name != "HOMA-IR" || got.Indices[3].Value != 2.5 {
		t.Fatalf("unexpected indices %+v", got.Indices)
	}
	if len(got.Comments) != 1 || got.Comments[0] != "possible insulin resistance (HOMA-IR)" {
		t.Errorf("expected inclusive HOMA-IR threshold, got %v", got.Comments)
	}
}

func TestPipeline_APIErrorsAreOperationOutcomes(t *testing.T) {
	resp, err := client().Post(globalEnv.HTTP.URL+"/api/v1/metabolic-panel/indices", "application/json",
		strings.NewReader(`{"cholesterol":"NaN"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var outcome struct {
		ResourceType string `json:"resourceType"`
		Issue        []struct {
			Severity string `json:"severity"`
		} `json:"issue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if outcome.ResourceType != "OperationOutcome" || len(outcome.Issue) != 6 {
		t.Errorf("expected one issue per lab field, got %+v", outcome)
	}
}

func TestPipeline_MetricsCountReportAccess(t *testing.T) {
	before := globalEnv.Server.Metrics.AccessCount("generate", http.StatusCreated)
	_, body := submitForm(t, formValues("Ana Perez"))
	download(t, extractLink(t, body))

	if got := globalEnv.Server.Metrics.AccessCount("generate", http.StatusCreated); got != before+1 {
		t.Errorf("expected generate counter to grow by 1, got %d -> %d", before, got)
	}

	resp, err := client().Get(globalEnv.HTTP.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`report_access_total{action="download",status_code="200"}`,
		`route="/reports/:id/download"`,
	} {
		if !strings.Contains(string(text), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
