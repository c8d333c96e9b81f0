// Package setup pushes the software baseline onto a ready worker: base
// packages, push credentials, and the workspace checkout. Every step is
// idempotent, so a failed attempt is always retried from the top.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sandstream/stoker/pkg/config"
	"github.com/sandstream/stoker/pkg/faults"
	"github.com/sandstream/stoker/pkg/remote"
	"github.com/sandstream/stoker/pkg/secrets"
)

// Configurator applies the bootstrap spec over SSH.
type Configurator struct {
	runner  remote.Runner
	secrets secrets.Provider
	spec    config.BootstrapSpec
	log     *slog.Logger
}

// New builds a configurator. The secret provider is held here and consulted
// only inside the credential step, immediately before use.
func New(runner remote.Runner, provider secrets.Provider, spec config.BootstrapSpec) *Configurator {
	return &Configurator{
		runner:  runner,
		secrets: provider,
		spec:    spec,
		log:     slog.Default().With("component", "setup"),
	}
}

type step struct {
	name string
	run  func(ctx context.Context, addr string) error
}

// Apply runs the full baseline in order. The first failing step aborts the
// attempt; there is no partial-success state to resume from.
func (c *Configurator) Apply(ctx context.Context, addr string) error {
	steps := []step{
		{"packages", c.installPackages},
		{"credentials", c.installCredentials},
		{"workspace", c.checkoutWorkspace},
	}
	for _, s := range steps {
		c.log.Info("configure step", "step", s.name, "addr", addr)
		if err := s.run(ctx, addr); err != nil {
			return fmt.Errorf("configure step %s: %w", s.name, err)
		}
	}
	return nil
}

// installPackages installs the base package set and, when requested, Node
// via nodesource. apt and the nodesource script are both safe to re-run.
func (c *Configurator) installPackages(ctx context.Context, addr string) error {
	pkgs := c.spec.Packages
	if len(pkgs) == 0 {
		pkgs = []string{"git", "build-essential", "curl"}
	}
	cmd := "sudo apt-get update -q && sudo DEBIAN_FRONTEND=noninteractive apt-get install -y -q " +
		strings.Join(pkgs, " ")
	if _, err := c.runner.Run(ctx, addr, cmd); err != nil {
		return faults.Transientf("install packages: %w", err)
	}

	if c.spec.NodeVersion != "" {
		nodeCmd := fmt.Sprintf(
			"command -v node >/dev/null || { curl -fsSL https://deb.nodesource.com/setup_%s.x | sudo -E bash - && sudo apt-get install -y -q nodejs; }",
			c.spec.NodeVersion,
		)
		if _, err := c.runner.Run(ctx, addr, nodeCmd); err != nil {
			return faults.Transientf("install node: %w", err)
		}
	}
	return nil
}

// installCredentials fetches the push token just-in-time and installs it
// into the worker's git credential store. The token travels over stdin and
// is wiped from this process as soon as the step returns.
func (c *Configurator) installCredentials(ctx context.Context, addr string) error {
	token, err := c.secrets.Fetch(ctx, c.spec.PushTokenSecret)
	if err != nil {
		return faults.Transientf("fetch push token: %w", err)
	}
	defer token.Zero()

	host, err := gitHost(c.spec.RepoURL)
	if err != nil {
		return faults.Permanentf("credential install: %w", err)
	}

	// The credential line embeds the token, so it gets the same wipe.
	line := fmt.Appendf(nil, "https://x-access-token:%s@%s\n", token.Reveal(), host)
	defer secrets.NewValue(line).Zero()

	cmd := "install -m 600 /dev/stdin ~/.git-credentials && " +
		"git config --global credential.helper store && " +
		fmt.Sprintf("git config --global user.name %q && git config --global user.email %q",
			c.spec.GitUserName, c.spec.GitUserEmail)
	if _, err := c.runner.RunInput(ctx, addr, cmd, line); err != nil {
		return faults.Transientf("install credentials: %w", err)
	}
	return nil
}

// checkoutWorkspace clones the repository, or fetches when the clone
// already exists from a prior attempt.
func (c *Configurator) checkoutWorkspace(ctx context.Context, addr string) error {
	dir := c.spec.WorkspaceDir
	cmd := fmt.Sprintf(
		"if [ -d %s/.git ]; then git -C %s fetch --all --prune && git -C %s pull --ff-only; else git clone %q %s; fi",
		dir, dir, dir, c.spec.RepoURL, dir,
	)
	if _, err := c.runner.Run(ctx, addr, cmd); err != nil {
		return faults.Transientf("checkout workspace: %w", err)
	}
	return nil
}

// gitHost extracts the host part of an https repository URL.
func gitHost(repoURL string) (string, error) {
	rest, ok := strings.CutPrefix(repoURL, "https://")
	if !ok {
		return "", fmt.Errorf("repo url %q is not https; push tokens require https remotes", repoURL)
	}
	host, _, _ := strings.Cut(rest, "/")
	if host == "" {
		return "", fmt.Errorf("repo url %q has no host", repoURL)
	}
	return host, nil
}
