package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/valreg/valreg-go/internal/actions"
	"github.com/valreg/valreg-go/internal/artifact"
	"github.com/valreg/valreg-go/internal/config"
	awsauth "github.com/valreg/valreg-go/internal/connectors/aws"
	"github.com/valreg/valreg-go/internal/connectors/aws/cloudwatch"
	"github.com/valreg/valreg-go/internal/event"
	"github.com/valreg/valreg-go/internal/github"
	"github.com/valreg/valreg-go/internal/metric"
	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/pipeline"
	"github.com/valreg/valreg-go/internal/policy"
	"github.com/valreg/valreg-go/internal/publish"
	"github.com/valreg/valreg-go/internal/ratelimit"
	"github.com/valreg/valreg-go/internal/resolver"
	"github.com/valreg/valreg-go/internal/retry"
	"github.com/valreg/valreg-go/internal/vcs"
)

const serviceName = "valreg"

func newRunCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run inside a GitHub Actions job",
		Long: `Snapshot the metrics below json-directory-path, compare them with the
snapshots of the merge-base run, upload the new snapshot as an artifact and
comment the report on the pull request.

Inputs are read from INPUT_* variables as set by the Actions runner, or from
flags of the same name.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindFlags(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runAction(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runAction(ctx context.Context, cfg config.Config) error {
	logger := observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	runner, err := actions.LoadContext()
	if err != nil {
		return err
	}

	if cfg.OTelEnabled {
		shutdown, err := observability.InitTracer(ctx, observability.ServiceInfo{
			Name:       serviceName,
			Version:    Version,
			Repository: runner.Repository,
			RunID:      runner.RunID,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	ev, err := event.Load(runner.EventPath)
	if err != nil {
		return err
	}

	policyRetry := retry.DefaultPolicy().WithObservers(logger, metrics)
	limiter := ratelimit.New(ratelimit.DefaultRates())

	gw, err := github.New(cfg.GitHubToken, runner.Repository, github.Options{
		Policy:  policyRetry,
		Limiter: limiter,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	git := vcs.New("", logger)

	p := &pipeline.Pipeline{
		Settings: pipeline.Settings{
			JSONDirectoryPath: cfg.JSONDirectoryPath,
			WorkspaceRoot:     cfg.Workspace,
			ArtifactName:      cfg.ArtifactName,
			TargetHash:        cfg.TargetHash,
			Branch:            cfg.Branch,
			DisableBranch:     cfg.DisableBranch,
			UpdateComment:     cfg.UpdateComment,
		},
		Runner: runner,
		Event:  ev,
		Resolver: resolver.New(gw, git,
			resolver.WithLogger(logger),
			resolver.WithMetrics(metrics),
		),
		Downloader: gw,
		Uploader: artifact.New(runner, artifact.Options{
			Policy:  policyRetry,
			Limiter: limiter,
			Logger:  logger,
		}),
		Commenter:   gw,
		Summary:     actions.NewSummary(runner.StepSummaryPath),
		Engine:      &policy.Engine{FailOnRegression: cfg.FailOnRegression},
		OutputsPath: runner.OutputPath,
		Logger:      logger,
		Metrics:     metrics,
	}

	if !cfg.DisableBranch {
		scratch, err := os.MkdirTemp("", "valreg-branch-")
		if err != nil {
			return fmt.Errorf("valreg: scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)
		p.Publisher = publish.New(git, runner.RepositoryURL()+".git", cfg.GitHubToken, cfg.Branch,
			scratch, policyRetry, logger)
	}

	if cfg.CloudWatchEnabled() {
		export, err := newCloudWatchExport(ctx, cfg, runner, ev, policyRetry, logger)
		if err != nil {
			return err
		}
		p.Export = export
	}

	_, err = p.Run(ctx)
	return err
}

func newCloudWatchExport(ctx context.Context, cfg config.Config, runner actions.Context, ev event.Event, p retry.Policy, logger *slog.Logger) (pipeline.ExportFunc, error) {
	var wi *awsauth.WebIdentity
	if cfg.AWSRoleARN != "" && runner.IDTokenRequestURL != "" {
		wi = &awsauth.WebIdentity{
			RoleARN:     cfg.AWSRoleARN,
			SessionName: fmt.Sprintf("valreg-%d", runner.RunID),
			Tokens: &verifiedTokens{
				source:     actions.NewIDTokenSource(runner, observability.HTTPClient(nil)),
				repository: runner.Repository,
			},
		}
	}
	roleARN := cfg.AWSRoleARN
	if wi != nil {
		roleARN = ""
	}
	awsCfg, err := awsauth.NewAWSConfig(ctx, cfg.AWSRegion, roleARN, wi)
	if err != nil {
		return nil, err
	}

	client := cloudwatch.New(awsCfg, p)
	dims := cloudwatch.Dimensions{
		Repository:   runner.Repository,
		ArtifactName: cfg.ArtifactName,
		Branch:       os.Getenv("GITHUB_REF_NAME"),
	}
	if ev.IsPullRequest() {
		dims.Branch = ev.PullRequest.HeadRef
	}
	logger.Info("cloudwatch export enabled", "namespace", cfg.CloudWatchNamespace, "region", cfg.AWSRegion, "web_identity", wi != nil)

	return func(ctx context.Context, ms []metric.Metric) (int, error) {
		return client.Publish(ctx, cfg.CloudWatchNamespace, dims, ms)
	}, nil
}

// verifiedTokens checks every Actions ID token against the issuer before it
// is exchanged with STS.
type verifiedTokens struct {
	source     *actions.IDTokenSource
	repository string
}

func (v *verifiedTokens) Fetch(ctx context.Context, audience string) (string, error) {
	raw, err := v.source.Fetch(ctx, audience)
	if err != nil {
		return "", err
	}
	verifier, err := actions.NewIDTokenVerifier(ctx, audience)
	if err != nil {
		return "", err
	}
	if _, err := actions.VerifyIDToken(ctx, verifier, raw, v.repository); err != nil {
		return "", err
	}
	return raw, nil
}
