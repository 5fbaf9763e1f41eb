package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/weaveworks/cascade/pkg/checkpoint"
	"github.com/weaveworks/cascade/pkg/ci"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/daemon"
	"github.com/weaveworks/cascade/pkg/deploy"
	"github.com/weaveworks/cascade/pkg/event"
	httpserver "github.com/weaveworks/cascade/pkg/http/daemon"
	"github.com/weaveworks/cascade/pkg/job"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/registry"
	"github.com/weaveworks/cascade/pkg/request"
	"github.com/weaveworks/cascade/pkg/vcs"
)

var version = "unversioned"

const product = "weaveworks/cascade"

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  cascaded is a promotion daemon.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	var (
		versionFlag = fs.Bool("version", false, "get version number")
		listenAddr  = fs.StringP("listen", "l", ":3030", "listen address where /metrics and API will be served")

		githubOwner = fs.String("github-owner", "", "owner of the deployment config repository on the VCS host")
		githubRepo  = fs.String("github-repo", "", "name of the deployment config repository on the VCS host")
		githubToken = fs.String("github-token", "", "token for the VCS host API; also via $CASCADE_GITHUB_TOKEN")

		registryURL      = fs.String("registry-url", "", "artifact store endpoint, e.g. https://registry.example.com")
		registryBaseRepo = fs.String("registry-base-repo", "", "repository prefix for app artifacts, e.g. example")
		registryRPS      = fs.Int("registry-rps", 50, "maximum requests per second to the artifact store")
		registryBurst    = fs.Int("registry-burst", 10, "maximum burst of requests to the artifact store")

		syncerURL   = fs.String("syncer-url", "", "deployment syncer API endpoint")
		syncerToken = fs.String("syncer-token", "", "token for the deployment syncer API; also via $CASCADE_SYNCER_TOKEN")

		chainSpec = fs.String("chain", pipeline.DefaultChain.String(), "comma-separated promotion chain, upstream first")
		appSpecs  = fs.StringSlice("apps", nil, "apps the daemon promotes; empty means none")

		reconcileInterval  = fs.Duration("reconcile-interval", 5*time.Minute, "period between sweeps of the environment branches")
		syncInterval       = fs.Duration("sync-interval", 5*time.Second, "period between syncer polls while waiting for an environment to settle")
		syncTimeout        = fs.Duration("sync-timeout", 10*time.Minute, "maximum time to wait for an environment to settle")
		validationInterval = fs.Duration("validation-interval", 10*time.Second, "period between CI polls while a request validates")
		validationTimeout  = fs.Duration("validation-timeout", 15*time.Minute, "maximum time to wait for a request's CI build")
		jobTimeout         = fs.Duration("job-timeout", 20*time.Minute, "maximum time for a queued operation to run")
	)

	err := fs.Parse(os.Args[1:])
	switch {
	case err == pflag.ErrHelp:
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	case *versionFlag:
		fmt.Println(version)
		os.Exit(0)
	}

	// Logger component.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	logger.Log("version", version)

	if *githubToken == "" {
		*githubToken = os.Getenv("CASCADE_GITHUB_TOKEN")
	}
	if *syncerToken == "" {
		*syncerToken = os.Getenv("CASCADE_SYNCER_TOKEN")
	}
	bail := func(args ...interface{}) {
		logger.Log(args...)
		os.Exit(1)
	}
	if *githubOwner == "" || *githubRepo == "" {
		bail("err", "--github-owner and --github-repo are required")
	}
	if *githubToken == "" {
		bail("err", "a VCS token is required; use --github-token or $CASCADE_GITHUB_TOKEN")
	}
	if *registryURL == "" || *registryBaseRepo == "" {
		bail("err", "--registry-url and --registry-base-repo are required")
	}
	if *syncerURL == "" {
		bail("err", "--syncer-url is required")
	}

	chain, err := pipeline.ParseChain(*chainSpec)
	if err != nil {
		bail("err", err)
	}
	apps := make([]pipeline.App, 0, len(*appSpecs))
	for _, a := range *appSpecs {
		apps = append(apps, pipeline.App(a))
	}
	if len(apps) == 0 {
		logger.Log("warning", "no --apps configured; the daemon will only serve explicit API calls")
	}

	mechanicalCtx := context.Background()

	// VCS host component.
	var host vcs.Client
	{
		host = vcs.NewGithubClient(mechanicalCtx, *githubOwner, *githubRepo, *githubToken)
		logger.Log("component", "vcs", "owner", *githubOwner, "repo", *githubRepo)
	}

	// CI component: reads commit statuses from the same host.
	var runner ci.Client
	{
		runner = ci.NewGithubStatuses(mechanicalCtx, *githubOwner, *githubRepo, *githubToken)
	}

	// Artifact store component.
	var promoter *registry.Promoter
	{
		logger := log.With(logger, "component", "registry")
		store := &registry.Client{
			BaseURL: *registryURL,
			Transport: registry.RateLimitedRoundTripper(http.DefaultTransport, registry.RateLimiterConfig{
				RPS:   *registryRPS,
				Burst: *registryBurst,
				Wait:  time.Minute,
			}),
		}
		promoter = &registry.Promoter{
			Registry: store,
			BaseRepo: *registryBaseRepo,
			Logger:   logger,
		}
		logger.Log("url", *registryURL, "baseRepo", *registryBaseRepo)
	}

	// Deployment syncer component.
	var syncer deploy.Syncer
	{
		syncer = deploy.NewHTTPClient(nil, *syncerURL, *syncerToken)
		logger.Log("component", "syncer", "url", *syncerURL)
	}

	// Event sink, shared by the manager and the daemon.
	events := event.LogWriter{Logger: log.With(logger, "component", "events")}

	// Request manager component.
	requests := &request.Manager{
		VCS:                host,
		CI:                 runner,
		Chain:              chain,
		ValidationInterval: *validationInterval,
		Events:             events,
		Logger:             log.With(logger, "component", "requests"),
	}

	// Shutdown tailpiece.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}

	// Job queue component.
	jobs := job.NewQueue(shutdown, shutdownWg)

	// Daemon (business logic) component.
	d := &daemon.Daemon{
		V:              version,
		VCS:            host,
		Deploy:         syncer,
		Promoter:       promoter,
		Requests:       requests,
		Resolver:       config.Resolver{},
		Chain:          chain,
		Apps:           apps,
		Jobs:           jobs,
		JobStatusCache: &job.StatusCache{Size: 100},
		EventWriter:    events,
		Logger:         log.With(logger, "component", "daemon"),
		LoopVars: &daemon.LoopVars{
			ReconcileInterval: *reconcileInterval,
			SyncInterval:      *syncInterval,
			SyncTimeout:       *syncTimeout,
			ValidationTimeout: *validationTimeout,
			JobTimeout:        *jobTimeout,
		},
	}

	shutdownWg.Add(1)
	go d.Loop(shutdown, shutdownWg, log.With(logger, "component", "loop"))

	// Update-check component.
	checker := checkpoint.Report(product, version, map[string]string{
		"chain": chain.String(),
		"apps":  fmt.Sprintf("%d", len(apps)),
	}, log.With(logger, "component", "checkpoint"))
	defer checker.Stop()

	// HTTP transport component.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", httpserver.NewHandler(d, httpserver.NewRouter()))
		logger.Log("addr", *listenAddr)
		errc <- http.ListenAndServe(*listenAddr, mux)
	}()

	// Go!
	logger.Log("exiting", <-errc)
	close(shutdown)
	shutdownWg.Wait()
}
