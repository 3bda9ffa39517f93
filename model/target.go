package model

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DeploymentTarget is a host that runs exactly one deployed service.
// ActiveVersion is the single source of truth for rollback; it is only
// updated after the target confirmed the version remotely.
type DeploymentTarget struct {
	Name          string `yaml:"name" json:"name"`
	Host          string `yaml:"host" json:"host"`
	Port          int    `yaml:"port,omitempty" json:"port,omitempty"`
	ServiceName   string `yaml:"service" json:"service"`
	InstallPath   string `yaml:"installPath" json:"installPath"`
	HealthURL     string `yaml:"healthUrl" json:"healthUrl"`
	CredentialRef string `yaml:"credentialRef" json:"credentialRef"`
	ActiveVersion string `yaml:"-" json:"activeVersion,omitempty"`
}

// Addr returns the host:port SSH address, defaulting the port to 22.
func (t *DeploymentTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// Validate checks the fields a deploy cannot proceed without.
func (t *DeploymentTarget) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target: name is required")
	}
	if t.Host == "" {
		return fmt.Errorf("target %s: host is required", t.Name)
	}
	if t.ServiceName == "" {
		return fmt.Errorf("target %s: service is required", t.Name)
	}
	if t.InstallPath == "" {
		return fmt.Errorf("target %s: installPath is required", t.Name)
	}
	if t.HealthURL == "" {
		return fmt.Errorf("target %s: healthUrl is required", t.Name)
	}
	if t.CredentialRef == "" {
		return fmt.Errorf("target %s: credentialRef is required", t.Name)
	}
	return nil
}

// LoadTarget parses a target.yaml file.
func LoadTarget(path string) (*DeploymentTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t DeploymentTarget
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DiscoverTargets scans the given directory for subdirectories containing
// target.yaml and returns the parsed targets.
func DiscoverTargets(targetsDir string) ([]*DeploymentTarget, error) {
	entries, err := os.ReadDir(targetsDir)
	if err != nil {
		return nil, err
	}

	var targets []*DeploymentTarget
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(targetsDir, entry.Name(), "target.yaml")
		t, err := LoadTarget(path)
		if err != nil {
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}
