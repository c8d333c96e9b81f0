package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkerSpec describes the worker resource to provision and the software
// baseline to push onto it. Loaded from a YAML file so operators can keep
// one spec per slot.
type WorkerSpec struct {
	Region        string `yaml:"region"`
	InstanceType  string `yaml:"instance_type"`
	ImageID       string `yaml:"image_id"`
	SubnetID      string `yaml:"subnet_id,omitempty"`
	SecurityGroup string `yaml:"security_group,omitempty"`
	KeyName       string `yaml:"key_name"`

	SSH       SSHSpec       `yaml:"ssh"`
	Bootstrap BootstrapSpec `yaml:"bootstrap"`
	Artifacts ArtifactsSpec `yaml:"artifacts"`
}

// SSHSpec configures how the orchestrator reaches the worker.
type SSHSpec struct {
	User           string `yaml:"user"`
	Port           int    `yaml:"port,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path"`
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`
	// InsecureHostKey skips host key verification. Freshly provisioned
	// instances have no pre-shared host key, so this defaults on unless a
	// known-hosts file is given.
	InsecureHostKey bool `yaml:"insecure_host_key,omitempty"`
}

// BootstrapSpec lists what the configurator installs, mirroring the fields
// an operator would otherwise bake into a setup script.
type BootstrapSpec struct {
	Packages        []string `yaml:"packages"`
	NodeVersion     string   `yaml:"node_version,omitempty"`
	RepoURL         string   `yaml:"repo_url"`
	GitUserName     string   `yaml:"git_user_name"`
	GitUserEmail    string   `yaml:"git_user_email"`
	PushTokenSecret string   `yaml:"push_token_secret"`
	WorkspaceDir    string   `yaml:"workspace_dir,omitempty"`
}

// ArtifactsSpec configures where work-cycle results are published.
type ArtifactsSpec struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix,omitempty"`
}

// LoadWorkerSpec reads and validates a worker spec YAML file.
func LoadWorkerSpec(path string) (*WorkerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load worker spec: %w", err)
	}
	var spec WorkerSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse worker spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("worker spec %q: %w", path, err)
	}
	return &spec, nil
}

// Validate checks the fields without which no worker could be brought up.
func (s *WorkerSpec) Validate() error {
	switch {
	case s.Region == "":
		return fmt.Errorf("region is required")
	case s.InstanceType == "":
		return fmt.Errorf("instance_type is required")
	case s.ImageID == "":
		return fmt.Errorf("image_id is required")
	case s.SSH.User == "":
		return fmt.Errorf("ssh.user is required")
	case s.Bootstrap.RepoURL == "":
		return fmt.Errorf("bootstrap.repo_url is required")
	case s.Bootstrap.PushTokenSecret == "":
		return fmt.Errorf("bootstrap.push_token_secret is required")
	}
	if s.SSH.Port == 0 {
		s.SSH.Port = 22
	}
	if s.SSH.KnownHostsPath == "" {
		s.SSH.InsecureHostKey = true
	}
	if s.Bootstrap.WorkspaceDir == "" {
		s.Bootstrap.WorkspaceDir = "~/workspace"
	}
	return nil
}
