package model

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTarget(t *testing.T, dir, name, content string) {
	t.Helper()
	targetDir := filepath.Join(dir, name)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(targetDir, "target.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const validTarget = `name: prod-1
host: 10.0.0.5
service: myapp
installPath: /opt/myapp/myapp
healthUrl: http://10.0.0.5:3000/healthz
credentialRef: deploy/prod-1
`

func TestDiscoverTargets(t *testing.T) {
	dir := t.TempDir()
	writeTarget(t, dir, "prod-1", validTarget)
	writeTarget(t, dir, "prod-2", `name: prod-2
host: 10.0.0.6
service: myapp
installPath: /opt/myapp/myapp
healthUrl: http://10.0.0.6:3000/healthz
credentialRef: deploy/prod-2
`)
	// no target.yaml, should be skipped
	os.MkdirAll(filepath.Join(dir, "scratch"), 0755)

	targets, err := DiscoverTargets(dir)
	if err != nil {
		t.Fatalf("DiscoverTargets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
}

func TestDiscoverSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeTarget(t, dir, "prod-1", validTarget)
	writeTarget(t, dir, "broken", "name: broken\nhost: 10.0.0.9\n")

	targets, err := DiscoverTargets(dir)
	if err != nil {
		t.Fatalf("DiscoverTargets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}
	if targets[0].Name != "prod-1" {
		t.Errorf("target = %q, want prod-1", targets[0].Name)
	}
}

func TestTargetAddr(t *testing.T) {
	tgt := DeploymentTarget{Host: "10.0.0.5"}
	if tgt.Addr() != "10.0.0.5:22" {
		t.Errorf("Addr() = %q, want default port 22", tgt.Addr())
	}
	tgt.Port = 2222
	if tgt.Addr() != "10.0.0.5:2222" {
		t.Errorf("Addr() = %q", tgt.Addr())
	}
}

func TestTargetValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*DeploymentTarget)
		wantErr bool
	}{
		{"complete", func(*DeploymentTarget) {}, false},
		{"missing host", func(t *DeploymentTarget) { t.Host = "" }, true},
		{"missing service", func(t *DeploymentTarget) { t.ServiceName = "" }, true},
		{"missing install path", func(t *DeploymentTarget) { t.InstallPath = "" }, true},
		{"missing health url", func(t *DeploymentTarget) { t.HealthURL = "" }, true},
		{"missing credential ref", func(t *DeploymentTarget) { t.CredentialRef = "" }, true},
	}

	for _, c := range cases {
		tgt := DeploymentTarget{
			Name:          "prod-1",
			Host:          "10.0.0.5",
			ServiceName:   "myapp",
			InstallPath:   "/opt/myapp/myapp",
			HealthURL:     "http://10.0.0.5:3000/healthz",
			CredentialRef: "deploy/prod-1",
		}
		c.mutate(&tgt)
		err := tgt.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
	}
}
