package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/sandstream/stoker/pkg/config"
	"github.com/sandstream/stoker/pkg/lifecycle"
	"github.com/sandstream/stoker/pkg/probe"
	"github.com/sandstream/stoker/pkg/provision"
	"github.com/sandstream/stoker/pkg/remote"
	"github.com/sandstream/stoker/pkg/runner"
	"github.com/sandstream/stoker/pkg/secrets"
	"github.com/sandstream/stoker/pkg/setup"
	"github.com/sandstream/stoker/pkg/state"
	"github.com/sandstream/stoker/pkg/workqueue"
)

func runDaemon(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitPermanent
	}
	spec, err := config.LoadWorkerSpec(cfg.WorkerSpec)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitPermanent
	}

	logger := slog.New(slog.NewJSONHandler(stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx, cfg, spec, logger)
	if err != nil {
		fmt.Fprintf(stderr, "startup error: %v\n", err)
		return exitPermanent
	}
	defer cleanup()

	logger.Info("stokerd starting", "slot", cfg.Slot)
	err = orch.Run(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lifecycle.ErrCancelled):
		logger.Info("stokerd stopped by operator")
		return exitCancelled
	case errors.Is(err, lifecycle.ErrRetryExhausted):
		logger.Error("stokerd exiting after exhausting retries", "error", err)
		return exitRetryExhausted
	case errors.Is(err, lifecycle.ErrPermanentFailure):
		logger.Error("stokerd exiting on permanent failure", "error", err)
		return exitPermanent
	case errors.Is(err, lifecycle.ErrStaleOrchestrator):
		logger.Error("another orchestrator owns this slot; stepping down")
		return exitPermanent
	default:
		logger.Error("stokerd exiting on error", "error", err)
		return exitPermanent
	}
}

// buildOrchestrator wires the collaborators selected by configuration.
func buildOrchestrator(ctx context.Context, cfg *config.Config, spec *config.WorkerSpec, logger *slog.Logger) (*lifecycle.Orchestrator, func(), error) {
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = store.Close() }

	var queue workqueue.Source
	switch cfg.QueueBackend {
	case "memory":
		queue = workqueue.NewMemoryQueue()
	default:
		rq := workqueue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueName)
		prev := cleanup
		cleanup = func() { _ = rq.Close(); prev() }
		queue = rq
	}

	var secretProvider secrets.Provider
	if cfg.SecretsBackend == "env" {
		secretProvider = secrets.EnvProvider{}
	} else {
		secretProvider, err = secrets.NewSecretsManagerProvider(ctx, spec.Region)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	prov, err := provision.NewEC2Provisioner(ctx, spec.Region, cfg.Slot)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sshClient, err := remote.NewClient(spec.SSH)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var artifacts runner.ArtifactStore
	if cfg.ArtifactsBackend == "memory" || spec.Artifacts.Bucket == "" {
		artifacts = runner.NewMemoryArtifactStore()
	} else {
		artifacts, err = runner.NewS3ArtifactStore(ctx, spec.Region, spec.Artifacts.Bucket, spec.Artifacts.Prefix)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	orch := lifecycle.New(cfg, provision.Spec{
		Region:        spec.Region,
		InstanceType:  spec.InstanceType,
		ImageID:       spec.ImageID,
		SubnetID:      spec.SubnetID,
		SecurityGroup: spec.SecurityGroup,
		KeyName:       spec.KeyName,
	}, lifecycle.Deps{
		Store:        store,
		Queue:        queue,
		Provisioner:  prov,
		Prober:       probe.NewSSHProber(sshClient),
		Configurator: setup.New(sshClient, secretProvider, spec.Bootstrap),
		Runner:       runner.New(queue, sshClient, artifacts, spec.Bootstrap.WorkspaceDir),
		Logger:       logger,
	})
	return orch, cleanup, nil
}
