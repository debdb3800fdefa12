package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	agentctx "github.com/easyops/contextbudget/pkg/context"
)

const testRequest = `{
  // 带注释和尾逗号的请求
  "user_request": "Write a product launch announcement for the new tracker",
  "context_data": {
    "compliance_sources": [
      {"title": "Claims", "text": "Do not promise guaranteed results."},
    ],
    "retrieved_examples": [
      {"title": "Launch post", "text": "Introducing our latest release."},
    ],
  },
}`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeRequest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "ctxbudget dev") {
		t.Errorf("version output = %q, want prefix %q", out, "ctxbudget dev")
	}
}

func TestClassifyCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"refinement", []string{"classify", "please", "edit", "this", "paragraph"}, "refinement"},
		{"analysis", []string{"classify", "compare these two drafts"}, "analysis"},
		{"current content", []string{"classify", "--current-content", "Existing text.", "make it better"}, "refinement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "", tt.args...)
			if err != nil {
				t.Fatalf("classify error = %v", err)
			}
			var got struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("Unmarshal() error = %v\n%s", err, out)
			}
			if got.Type != tt.want {
				t.Errorf("type = %q, want %q", got.Type, tt.want)
			}
		})
	}
}

func TestClassifyCmd_RequiresText(t *testing.T) {
	if _, _, err := execute(t, "", "classify"); err == nil {
		t.Error("classify without args should fail")
	}
}

func TestPlanCmd(t *testing.T) {
	out, _, err := execute(t, "", "plan", "--type", "analysis", "--user-tokens", "100", "--format", "yaml")
	if err != nil {
		t.Fatalf("plan error = %v", err)
	}
	var got struct {
		RequestType  string         `yaml:"request_type"`
		Allocations  map[string]int `yaml:"allocations"`
		OutputBuffer int            `yaml:"output_buffer"`
	}
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v\n%s", err, out)
	}
	if got.RequestType != "analysis" {
		t.Errorf("request_type = %q, want %q", got.RequestType, "analysis")
	}
	if got.OutputBuffer != 20000 {
		t.Errorf("output_buffer = %d, want 20000", got.OutputBuffer)
	}
	total := got.OutputBuffer
	for _, v := range got.Allocations {
		total += v
	}
	if total != 200000 {
		t.Errorf("allocations + output_buffer = %d, want 200000", total)
	}
}

func TestPlanCmd_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown type", []string{"plan", "--type", "poetry"}},
		{"negative tokens", []string{"plan", "--user-tokens", "-5"}},
		{"unknown format", []string{"plan", "--format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := execute(t, "", tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}
}

func TestAssembleCmd_JSON(t *testing.T) {
	path := writeRequest(t, testRequest)

	out, _, err := execute(t, "", "assemble", path, "--trace")
	if err != nil {
		t.Fatalf("assemble error = %v", err)
	}
	var got struct {
		FinalText   string `json:"final_text"`
		Mode        string `json:"mode"`
		RequestType string `json:"request_type"`
		TotalTokens int    `json:"total_tokens"`
		Trace       struct {
			Pipeline string `json:"pipeline"`
			Attempts []struct {
				Pipeline string `json:"pipeline"`
			} `json:"attempts"`
		} `json:"strategy_trace"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out)
	}
	if got.Mode != "advanced" {
		t.Errorf("mode = %q, want %q", got.Mode, "advanced")
	}
	if got.RequestType != "creation" {
		t.Errorf("request_type = %q, want %q", got.RequestType, "creation")
	}
	if !strings.Contains(got.FinalText, "guaranteed results") {
		t.Errorf("final_text missing compliance text:\n%s", got.FinalText)
	}
	if got.TotalTokens <= 0 {
		t.Errorf("total_tokens = %d, want > 0", got.TotalTokens)
	}
	if got.Trace.Pipeline != "advanced" || len(got.Trace.Attempts) != 1 {
		t.Errorf("strategy_trace = %+v, want one advanced attempt", got.Trace)
	}
}

func TestAssembleCmd_TraceOmittedByDefault(t *testing.T) {
	path := writeRequest(t, testRequest)

	out, _, err := execute(t, "", "assemble", path)
	if err != nil {
		t.Fatalf("assemble error = %v", err)
	}
	if strings.Contains(out, "strategy_trace") {
		t.Error("output should not contain strategy_trace without --trace")
	}
}

func TestAssembleCmd_Text(t *testing.T) {
	out, _, err := execute(t, testRequest, "assemble", "-", "--text")
	if err != nil {
		t.Fatalf("assemble error = %v", err)
	}
	if !strings.HasPrefix(out, "[System]") {
		t.Errorf("text output should start with the system section, got:\n%s", out)
	}
	if !strings.Contains(out, "[User Request]\nWrite a product launch announcement") {
		t.Errorf("text output missing user request:\n%s", out)
	}
}

func TestAssembleCmd_CBOR(t *testing.T) {
	path := writeRequest(t, testRequest)

	out, _, err := execute(t, "", "assemble", path, "--format", "cbor", "--mode", "minimal")
	if err != nil {
		t.Fatalf("assemble error = %v", err)
	}
	var got struct {
		Mode     string `cbor:"mode"`
		Sections []struct {
			Category string `cbor:"category"`
		} `cbor:"sections"`
	}
	if err := cbor.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("cbor.Unmarshal() error = %v", err)
	}
	if got.Mode != "minimal" {
		t.Errorf("mode = %q, want %q", got.Mode, "minimal")
	}
	if len(got.Sections) != 2 {
		t.Errorf("len(sections) = %d, want 2", len(got.Sections))
	}
}

func TestAssembleCmd_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"missing file", "", []string{"assemble", filepath.Join(t.TempDir(), "missing.json")}},
		{"invalid json", "{", []string{"assemble", "-"}},
		{"schema violation", `{"user_request": ""}`, []string{"assemble", "-"}},
		{"unknown mode", testRequest, []string{"assemble", "-", "--mode", "turbo"}},
		{"no args", "", []string{"assemble"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := execute(t, tt.stdin, tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}
}

func TestAssembleCmd_MetricsOut(t *testing.T) {
	path := writeRequest(t, testRequest)
	metricsPath := filepath.Join(t.TempDir(), "ctxbudget.prom")

	if _, _, err := execute(t, "", "assemble", path, "--metrics-out", metricsPath); err != nil {
		t.Fatalf("assemble error = %v", err)
	}
	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "contextbudget_context_assemblies_total") {
		t.Errorf("metrics file missing assemblies counter:\n%s", data)
	}
}

func TestConfigFlag(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "ctxbudget.yaml")
	content := "assembly:\n  mode: basic\nstrategy:\n  pipelines: [basic, minimal]\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	path := writeRequest(t, testRequest)

	out, _, err := execute(t, "", "--config", configPath, "assemble", path)
	if err != nil {
		t.Fatalf("assemble error = %v", err)
	}
	var got struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Mode != "basic" {
		t.Errorf("mode = %q, want %q", got.Mode, "basic")
	}
}

func TestPipelinesFrom(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{"advanced", "advanced,basic,minimal"},
		{"basic", "basic,minimal"},
		{"minimal", "minimal"},
		{"unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got := strings.Join(pipelinesFrom(agentctx.Mode(tt.mode)), ",")
			if got != tt.want {
				t.Errorf("pipelinesFrom(%q) = %q, want %q", tt.mode, got, tt.want)
			}
		})
	}
}
