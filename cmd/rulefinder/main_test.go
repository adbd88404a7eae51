package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panorama-rulefinder/internal/model"
)

const dg1Rules = `<response status="success"><result>
<security><rules>
  <entry name="allow-web" uuid="6f1b2c1e-0000-4000-8000-000000000001">
    <from><member>trust</member></from>
    <to><member>untrust</member></to>
    <source><member>web1</member></source>
    <destination><member>any</member></destination>
    <action>allow</action>
  </entry>
  <entry name="deny-all" uuid="6f1b2c1e-0000-4000-8000-000000000002">
    <action>deny</action>
  </entry>
</rules></security>
</result></response>`

const sharedObjects = `<response status="success"><result><address>
  <entry name="web1"><ip-netmask>10.0.0.5/32</ip-netmask></entry>
  <entry name="web-fqdn"><fqdn>web1.example.com</fqdn></entry>
</address></result></response>`

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	if cmd == nil {
		t.Fatal("newRootCmd returned nil")
	}
	if cmd.Use != "rulefinder" {
		t.Errorf("Expected use 'rulefinder', got '%s'", cmd.Use)
	}

	for _, name := range []string{"sync", "search", "serve"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("Expected subcommand %s, got %v (%v)", name, sub, err)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR", "UNKNOWN"}
	for _, lvl := range levels {
		l := setupLogger(lvl, "")
		if l == nil {
			t.Errorf("setupLogger returned nil for level %s", lvl)
		}
	}

	logFile := filepath.Join(t.TempDir(), "test.log")
	if l := setupLogger("INFO", logFile); l == nil {
		t.Error("setupLogger with file returned nil")
	}

	// Invalid log file path falls back to stderr.
	if l := setupLogger("INFO", "/nonexistent/path/to/log.log"); l == nil {
		t.Error("setupLogger should return a logger even if file fails")
	}
}

func TestDeviceGroupsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.txt")
	require.NoError(t, os.WriteFile(path, []byte("# east coast\ndg-east\n\ndg-west\ndg-east\n"), 0o600))

	got, err := deviceGroups([]string{"dg-arg"}, path, []string{"dg-config"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dg-arg"}, got)

	got, err = deviceGroups(nil, path, []string{"dg-config"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dg-east", "dg-west"}, got)

	got, err = deviceGroups(nil, "", []string{"dg-config"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dg-config"}, got)

	_, err = deviceGroups(nil, filepath.Join(t.TempDir(), "missing.txt"), nil)
	assert.Error(t, err)
}

// fakePanorama serves dg1 normally and rejects dg-broken.
func fakePanorama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAN-KEY") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		xpath := r.URL.Query().Get("xpath")
		switch {
		case xpath == "/config/shared/address":
			w.Write([]byte(sharedObjects))
		case strings.Contains(xpath, "entry[@name='dg1']"):
			w.Write([]byte(dg1Rules))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RULEFINDER_PANORAMA_API_KEY", "secret")
	t.Setenv("RULEFINDER_DATABASE_DRIVER", "sqlite")
	// Nothing listens here, so lookups fail fast and are absorbed.
	t.Setenv("RULEFINDER_DNS_SERVER", "127.0.0.1:1")
	t.Setenv("RULEFINDER_DNS_TIMEOUT", "200ms")
	t.Setenv("RULEFINDER_LOG_FILE", filepath.Join(t.TempDir(), "rulefinder.log"))
}

func TestSyncThenSearch(t *testing.T) {
	testEnv(t)
	srv := fakePanorama(t)
	db := filepath.Join(t.TempDir(), "rules.db")

	out, err := execute(t, "sync", "dg1", "--host", srv.URL, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rules written")

	out, err = execute(t, "search", "10.0.0.5", "--host", srv.URL, "--db", db, "--output", "json")
	require.NoError(t, err)

	var result model.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, map[string]string{"web1": "10.0.0.5/32"}, result.Objects)
	require.Len(t, result.Rules, 1)
	assert.Equal(t, "allow-web", result.Rules[0].Name)
	assert.Equal(t, "dg1", result.Rules[0].DeviceGroup)
}

func TestSyncContinuesPastFailedGroup(t *testing.T) {
	testEnv(t)
	srv := fakePanorama(t)
	db := filepath.Join(t.TempDir(), "rules.db")

	out, err := execute(t, "sync", "dg-broken", "dg1", "--host", srv.URL, "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dg-broken")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "2 rules written")
}

func TestSyncRequiresSettings(t *testing.T) {
	t.Setenv("RULEFINDER_LOG_FILE", filepath.Join(t.TempDir(), "rulefinder.log"))

	_, err := execute(t, "sync", "dg1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panorama host is required")

	t.Setenv("RULEFINDER_PANORAMA_API_KEY", "secret")
	_, err = execute(t, "sync", "dg1", "--host", "panorama.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database dsn is required")
}

func TestSearchRequiresToken(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "search", "--host", "panorama.example.com", "--db", filepath.Join(t.TempDir(), "rules.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to search")
}
