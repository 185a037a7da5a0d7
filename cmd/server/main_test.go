package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/utils"
)

const testConfig = `
auth:
  jwt_secret: a-long-enough-test-secret
provider:
  netease:
    enabled: true
    instance: http://localhost:3000
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "--config", path, "token", "cli", "--scope", "search", "-s", "detail")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	provider, err := auth.NewJWTProvider(auth.JWTConfig{Secret: "a-long-enough-test-secret", Issuer: "bragi"}, utils.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	claims, err := provider.ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Client != "cli" || !claims.Allows("search") || !claims.Allows("detail") || claims.Allows("stream") {
		t.Errorf("claims = %+v", claims)
	}
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config", "-c", writeConfig(t))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "netease: enabled=true") {
		t.Errorf("output = %s", out)
	}
}

func TestCallCommandRejectsBadParams(t *testing.T) {
	if _, err := execute(t, "call", "search", "{not json"); err == nil {
		t.Error("expected an error for malformed params")
	}
}
