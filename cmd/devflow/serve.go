package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/devflow-ai/devflow/internal/assign"
	"github.com/devflow-ai/devflow/internal/config"
	"github.com/devflow-ai/devflow/internal/ghclient"
	"github.com/devflow-ai/devflow/internal/httpapi"
	"github.com/devflow-ai/devflow/internal/issue"
	"github.com/devflow-ai/devflow/internal/metrics"
	"github.com/devflow-ai/devflow/internal/observability"
	"github.com/devflow-ai/devflow/internal/prdo"
	"github.com/devflow-ai/devflow/internal/ratelimit"
	"github.com/devflow-ai/devflow/internal/router"
	"github.com/devflow-ai/devflow/internal/sandbox"
	"github.com/devflow-ai/devflow/internal/sandbox/execbackend"
	"github.com/devflow-ai/devflow/internal/store"
	reposync "github.com/devflow-ai/devflow/internal/sync"
	"github.com/devflow-ai/devflow/internal/webhook"
	"github.com/devflow-ai/devflow/internal/workflow"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the devflow server: webhook gateway, sandbox control plane, and sync coordinators.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			if configPath != "" {
				paths = []string{filepath.Dir(configPath)}
			}
			cfg, err := config.Load(config.LoaderOptions{ConfigPaths: paths})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a devflow.yaml config file (default: ./devflow.yaml)")
	return cmd
}

// deps bundles the subsystems seedRepoBindings and the per-repo factory
// closures below need, threaded through instead of captured as package
// globals so runServe stays the only place that constructs them.
type deps struct {
	cfg   config.Config
	log   *observability.Logger
	st    *store.Store
	gh    ghclient.Client
	registry *sandbox.Registry
	prdo  *prdo.Machine

	mu           sync.Mutex
	coordinators map[string]*reposync.Coordinator
	routers      map[string]*router.Router
	beadsStores  map[string]*issue.JSONLStore
}

func (d *deps) cloneDirFor(owner, name string) string {
	for _, r := range d.cfg.Repos {
		if r.Owner == owner && r.Name == name && r.CloneDir != "" {
			return r.CloneDir
		}
	}
	return filepath.Join("workspaces", owner+"__"+name)
}

func (d *deps) coordinatorFor(repoID string) *reposync.Coordinator {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.coordinators[repoID]; ok {
		return c
	}
	c := reposync.New(repoID, d.st, d.log)
	d.coordinators[repoID] = c
	return c
}

func (d *deps) routerFor(repoID string) *router.Router {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.routers[repoID]; ok {
		return r
	}
	reg := d.beadsStoreForLocked(repoID)
	dispatcher := assign.New(d.st)
	r := router.New(repoID, reg, dispatcher, d.cfg.Router.CancelInFlightOnBlock, d.log)
	r.Store = d.st
	r.PRDO = d.prdo
	d.routers[repoID] = r
	return r
}

func (d *deps) beadsStoreFor(repoID string) *issue.JSONLStore {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.beadsStoreForLocked(repoID)
}

// beadsStoreForLocked must be called with d.mu held.
func (d *deps) beadsStoreForLocked(repoID string) *issue.JSONLStore {
	if reg, ok := d.beadsStores[repoID]; ok {
		return reg
	}
	binding, err := d.st.GetRepoBinding(repoID)
	if err != nil {
		return nil
	}
	reg := issue.NewJSONLStore(d.cloneDirFor(binding.Owner, binding.Name), "")
	d.beadsStores[repoID] = reg
	return reg
}

func seedRepoBindings(st *store.Store, cfg config.Config) error {
	for _, r := range cfg.Repos {
		id := r.Owner + "/" + r.Name
		existing, err := st.GetRepoBinding(id)
		defaultBranch := r.DefaultBranch
		if defaultBranch == "" {
			defaultBranch = "main"
		}
		if err == nil && existing.DefaultBranch != "" {
			defaultBranch = existing.DefaultBranch
		}
		secret := r.WebhookSecret
		if secret == "" {
			secret = cfg.GitHub.WebhookSecret
		}
		binding := store.RepoBinding{
			ID:             id,
			Owner:          r.Owner,
			Name:           r.Name,
			InstallationID: r.InstallationID,
			WebhookSecret:  secret,
			DefaultBranch:  defaultBranch,
		}
		if err := st.SaveRepoBinding(binding); err != nil {
			return fmt.Errorf("seed repo binding %s: %w", id, err)
		}
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	log, err := observability.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := seedRepoBindings(st, cfg); err != nil {
		return err
	}

	gh := ghclient.NewClient(cfg.GitHub.Token)

	backend := execbackend.NewBackend(filepath.Join("workspaces", ".sandbox"))
	registry := sandbox.NewRegistry(backend, log)
	sandboxLimit := ratelimit.NewSandboxCreation(cfg.Sandbox.CreateRatePerSecond, cfg.Sandbox.CreateBurst)
	apiLimit := ratelimit.NewFixedWindow(cfg.HTTP.RateLimitPerMinute, time.Minute, nil)

	d := &deps{
		cfg:          cfg,
		log:          log,
		st:           st,
		gh:           gh,
		registry:     registry,
		coordinators: make(map[string]*reposync.Coordinator),
		routers:      make(map[string]*router.Router),
		beadsStores:  make(map[string]*issue.JSONLStore),
	}

	prReg := prometheus.NewRegistry()
	m := metrics.New(prReg)
	prdoMachine := prdo.New(st, log)
	d.prdo = prdoMachine

	runner := &workflow.Runner{
		Registry: registry,
		Store:    st,
		GH:       gh,
		Log:      log,
		CloneDir: func() (string, error) {
			dir := filepath.Join("workspaces", "runs", workflow.NewWorkflowID())
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", err
			}
			return dir, nil
		},
	}

	srv := &httpapi.Server{
		Store:                st,
		Sandbox:              registry,
		SandboxLimit:         sandboxLimit,
		APIRateLimit:         apiLimit,
		Assign:               assign.New(st),
		Workflow:             runner,
		PRDO:                 prdoMachine,
		GH:                   gh,
		Metrics:              m,
		PromReg:              prReg,
		Log:                  log,
		StartedAt:            time.Now(),
		OperatorToken:        cfg.HTTP.OperatorToken,
		DefaultWebhookSecret: cfg.GitHub.WebhookSecret,
		PushClassifier:       webhook.DefaultPushClassifierConfig(),
		Coordinators:         d.coordinatorFor,
		Routers:              d.routerFor,
		BeadsStores:          d.beadsStoreFor,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go registry.RunReaper(ctx, time.Minute)
	for _, r := range cfg.Repos {
		repoID := r.Owner + "/" + r.Name
		go d.routerFor(repoID).Schedule(ctx, 24*time.Hour, 7*24*time.Hour)
	}

	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.NewRouter()}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("devflow listening", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
