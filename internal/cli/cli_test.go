// Package cli provides unit tests for CLI commands and helpers.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"amocrm-contacts/internal/config"
	"amocrm-contacts/internal/contacts"
)

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "short string no truncation",
			input:    "hello",
			maxLen:   10,
			expected: "hello",
		},
		{
			name:     "exact length",
			input:    "hello",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "truncation with ellipsis",
			input:    "hello world",
			maxLen:   8,
			expected: "hello...",
		},
		{
			name:     "empty string",
			input:    "",
			maxLen:   10,
			expected: "",
		},
		{
			name:     "maxLen of 3 exact",
			input:    "hello",
			maxLen:   3,
			expected: "hel",
		},
		{
			name:     "maxLen of 0",
			input:    "hello",
			maxLen:   0,
			expected: "",
		},
		{
			name:     "cyrillic counted by rune",
			input:    "Александр Пушкин",
			maxLen:   10,
			expected: "Алексан...",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := truncate(tc.input, tc.maxLen)
			if result != tc.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
			}
		})
	}
}

func TestImportDelay(t *testing.T) {
	if got := importDelay(0); got >= 0 {
		t.Errorf("importDelay(0) = %v, want negative (no pause)", got)
	}
	if got := importDelay(300 * time.Millisecond); got != 300*time.Millisecond {
		t.Errorf("importDelay(300ms) = %v", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"version", "export", "import", "get", "login", "mcp"}
	for _, name := range want {
		cmd, _, err := RootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestDisplayImportSummary(t *testing.T) {
	var buf bytes.Buffer
	displayImportSummary(&buf, &contacts.ImportResult{
		Total:      3,
		Updated:    2,
		Skipped:    1,
		Failed:     []contacts.FailedRow{{ID: 7, Name: "Broken", Error: "amocrm error 400: Bad Request"}},
		ErrorsFile: "errors.csv",
	})

	out := buf.String()
	for _, want := range []string{"Updated: 2", "Failed: 1", "Errors file: errors.csv", "#7 Broken: amocrm error 400"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

// fakeAmoCRM serves a tiny contacts API.
func fakeAmoCRM(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer long-lived" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/hal+json")
		switch {
		case r.URL.Path == "/api/v4/contacts/5":
			fmt.Fprint(w, `{"id":5,"name":"Иван Петров","first_name":"Иван","last_name":"Петров","created_at":1700000000,"updated_at":1700000000}`)
		case r.URL.Path == "/api/v4/contacts" && r.URL.Query().Get("page") == "1":
			fmt.Fprint(w, `{"_embedded":{"contacts":[{"id":5,"name":"Иван Петров","first_name":"Иван","last_name":"Петров"}]}}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeTestConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`credentials:
  base_url: %s
  long_lived_token: long-lived
token:
  file: %s
export:
  file: %s
logging:
  level: error
`, baseURL, filepath.Join(dir, "token.json"), filepath.Join(dir, "contacts.csv"))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile, exportOutput, importErrors = "", "", ""

	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})

	err := RootCmd.Execute()
	return out.String(), err
}

func TestGetCommand(t *testing.T) {
	server := fakeAmoCRM(t)
	cfgPath, _ := writeTestConfig(t, server.URL)

	out, err := execute(t, "--config", cfgPath, "get", "5")
	if err != nil {
		t.Fatalf("get error = %v, output:\n%s", err, out)
	}

	var view contacts.ContactView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if view.ID != 5 || view.Name != "Иван Петров" {
		t.Errorf("unexpected contact: %+v", view)
	}
	if !strings.Contains(out, "Иван Петров") {
		t.Errorf("unicode should not be escaped:\n%s", out)
	}
}

func TestGetCommand_Errors(t *testing.T) {
	server := fakeAmoCRM(t)
	cfgPath, _ := writeTestConfig(t, server.URL)

	if _, err := execute(t, "--config", cfgPath, "get", "abc"); err == nil {
		t.Error("expected error for invalid id")
	}
	if _, err := execute(t, "--config", cfgPath, "get", "6"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestExportCommand(t *testing.T) {
	server := fakeAmoCRM(t)
	cfgPath, dir := writeTestConfig(t, server.URL)
	dest := filepath.Join(dir, "out.csv")

	out, err := execute(t, "--config", cfgPath, "export", "-o", dest)
	if err != nil {
		t.Fatalf("export error = %v, output:\n%s", err, out)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	expected := "contact_id;name;last_name;first_name\n5;\"Иван Петров\";Петров;Иван\n"
	if string(data) != expected {
		t.Errorf("export file = %q, want %q", data, expected)
	}
	if !strings.Contains(out, "Contacts: 1") {
		t.Errorf("summary missing contact count:\n%s", out)
	}
}

func TestImportCommand_MissingFile(t *testing.T) {
	server := fakeAmoCRM(t)
	cfgPath, dir := writeTestConfig(t, server.URL)

	_, err := execute(t, "--config", cfgPath, "import", filepath.Join(dir, "absent.csv"))
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("expected file not found error, got %v", err)
	}
}

func TestImportCommand_MissingFileKeepsCode(t *testing.T) {
	var exchanges atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/access_token" {
			exchanges.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":86400}`)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	tokenPath := filepath.Join(dir, "token.json")
	content := fmt.Sprintf(`credentials:
  base_url: %s
  client_id: client
  client_secret: secret
  redirect_uri: https://example.com/callback
  code: one-time-code
token:
  file: %s
logging:
  level: error
`, server.URL, tokenPath)
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "--config", cfgPath, "import", filepath.Join(dir, "absent.csv"))
	if !errors.Is(err, contacts.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if n := exchanges.Load(); n != 0 {
		t.Errorf("authorization code exchanged %d times before the file check", n)
	}
	if _, err := os.Stat(tokenPath); !os.IsNotExist(err) {
		t.Errorf("token file should not exist, stat error = %v", err)
	}

	_, err = execute(t, "--config", cfgPath, "import", dir)
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Errorf("expected directory error, got %v", err)
	}
	if n := exchanges.Load(); n != 0 {
		t.Errorf("authorization code exchanged %d times for a directory argument", n)
	}
}

func TestMCPConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.MCP.Host = "0.0.0.0"
	cfg.MCP.Port = 9090
	cfg.MCP.APIKey = "key"
	cfg.Export.File = "all.csv"

	got := mcpConfig(cfg, "1.2.3")
	if got.Addr != "0.0.0.0:9090" {
		t.Errorf("Addr = %q, want %q", got.Addr, "0.0.0.0:9090")
	}
	if got.APIKey != "key" || got.ExportFile != "all.csv" || got.Version != "1.2.3" {
		t.Errorf("unexpected MCP config: %+v", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if out != "amocrm-contacts version "+Version+"\n" {
		t.Errorf("version output = %q", out)
	}
}
