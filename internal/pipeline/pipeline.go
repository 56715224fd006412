// Package pipeline runs one invocation of the bot: snapshot the current
// metrics, find and download the historical snapshot, compare, upload, and
// report back to the pull request.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/valreg/valreg-go/internal/actions"
	"github.com/valreg/valreg-go/internal/compare"
	"github.com/valreg/valreg-go/internal/event"
	"github.com/valreg/valreg-go/internal/extract"
	"github.com/valreg/valreg-go/internal/metric"
	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/policy"
	"github.com/valreg/valreg-go/internal/publish"
	"github.com/valreg/valreg-go/internal/report"
	"github.com/valreg/valreg-go/internal/resolver"
	"github.com/valreg/valreg-go/internal/workspace"
)

// Uploader publishes workspace files as a workflow artifact.
type Uploader interface {
	Upload(ctx context.Context, root string, files []string, name string) error
}

// Commenter posts and edits pull-request comments.
type Commenter interface {
	PostComment(ctx context.Context, issue int, body string) error
	UpdateComment(ctx context.Context, commentID int64, body string) error
	FindComment(ctx context.Context, issue int, marker string) (int64, bool, error)
}

// SummaryWriter appends to the job summary.
type SummaryWriter interface {
	WriteJobSummary(body string) error
}

// Resolver locates the historical run to compare against.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) *resolver.Match
}

// BranchPublisher commits compared snapshots to the report branch.
type BranchPublisher interface {
	Publish(ctx context.Context, req publish.Request) (string, error)
}

// ExportFunc ships the actual metrics to an external store and returns how
// many were written.
type ExportFunc func(ctx context.Context, ms []metric.Metric) (int, error)

// Settings are the inputs that steer one run.
type Settings struct {
	JSONDirectoryPath string
	WorkspaceRoot     string
	ArtifactName      string
	TargetHash        string
	Branch            string
	DisableBranch     bool
	UpdateComment     bool
}

// Pipeline wires the collaborators of one run. Publisher, Export and
// OutputsPath are optional.
type Pipeline struct {
	Settings Settings
	Runner   actions.Context
	Event    event.Event

	Resolver   Resolver
	Downloader extract.Downloader
	Uploader   Uploader
	Commenter  Commenter
	Summary    SummaryWriter
	Publisher  BranchPublisher
	Export     ExportFunc
	Engine     *policy.Engine

	OutputsPath string
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Result describes what a run did.
type Result struct {
	InvocationID string
	Target       *resolver.Match
	Output       compare.Output
	Decision     policy.Decision
	ReportDir    string
	Comment      string
	Exported     int
}

// Run executes the pipeline. The returned error is non-nil on any fatal
// failure, and wraps policy.ErrRegression when the decision fails the run
// after everything was reported.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	res := Result{InvocationID: uuid.NewString()}
	log := p.logger().With("invocation_id", res.InvocationID)

	ctx, span := observability.Tracer().Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("invocation_id", res.InvocationID),
			attribute.String("artifact_name", p.Settings.ArtifactName),
		))
	defer span.End()

	res, err := p.run(ctx, log, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, res Result) (Result, error) {
	log.Info("start", "run_id", p.Runner.RunID, "sha", p.Runner.SHA)

	ws, err := p.prepare(ctx, log)
	if err != nil {
		return res, err
	}

	// Without pull-request context the snapshot only becomes the expected
	// data for later runs.
	if !p.Event.IsPullRequest() {
		log.Info("no pull request in event, uploading snapshot only", "event", p.Runner.EventName)
		if err := p.upload(ctx, log, ws); err != nil {
			return res, err
		}
		res.Exported = p.export(ctx, log, ws)
		return res, p.writeOutputs(res, false)
	}
	pr := p.Event.PullRequest

	res.Target = p.Resolver.Resolve(ctx, resolver.Request{
		HasPullRequest: true,
		BaseSHA:        pr.BaseSHA,
		HeadSHA:        pr.HeadSHA,
		TargetHash:     p.Settings.TargetHash,
		ArtifactName:   p.Settings.ArtifactName,
	})
	if res.Target != nil {
		if err := p.step(ctx, "extract", func(ctx context.Context) error {
			n, err := extract.ExpectedFromArtifact(ctx, p.Downloader, res.Target.Artifact.ID, ws.Root(), log)
			if err != nil {
				return err
			}
			log.Info("expected snapshots extracted", "files", n)
			return nil
		}); err != nil {
			return res, fmt.Errorf("pipeline: download expected: %w", err)
		}
	}

	if err := p.step(ctx, "compare", func(context.Context) error {
		out, err := compare.CompareDirs(ws.ExpectedDir(), ws.ActualDir())
		res.Output = out
		return err
	}); err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}
	p.recordClasses(ctx, res.Output)
	c := res.Output.Counts()
	log.Info("compared snapshots",
		"over_threshold", c.OverThreshold, "within_threshold", c.WithinThreshold,
		"new", c.New, "deleted", c.Deleted)

	if err := p.upload(ctx, log, ws); err != nil {
		return res, err
	}

	res.Decision = p.engine().Decide(res.Output, res.Target != nil)

	if res.Target != nil && res.Output.HasChanges() && !p.Settings.DisableBranch && p.Publisher != nil {
		if err := p.step(ctx, "publish", func(ctx context.Context) error {
			dir, err := p.Publisher.Publish(ctx, publish.Request{
				ExpectedDir:  ws.ExpectedDir(),
				ActualDir:    ws.ActualDir(),
				RunID:        p.Runner.RunID,
				ArtifactName: p.Settings.ArtifactName,
			})
			res.ReportDir = dir
			return err
		}); err != nil {
			return res, fmt.Errorf("pipeline: publish report branch: %w", err)
		}
	}

	body, err := p.render(res, pr)
	if err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}
	res.Comment = body

	if err := p.step(ctx, "comment", func(ctx context.Context) error {
		return p.comment(ctx, log, pr.Number, body)
	}); err != nil {
		return res, fmt.Errorf("pipeline: comment: %w", err)
	}

	if res.Target != nil && p.Summary != nil {
		if err := p.Summary.WriteJobSummary(body); err != nil {
			return res, fmt.Errorf("pipeline: job summary: %w", err)
		}
		log.Info("wrote job summary")
	}

	res.Exported = p.export(ctx, log, ws)

	if err := p.writeOutputs(res, res.Target != nil); err != nil {
		return res, err
	}

	log.Info("finished", "verdict", res.Decision.Verdict, "details", res.Decision.Details)
	return res, policy.Gate(res.Decision)
}

func (p *Pipeline) prepare(ctx context.Context, log *slog.Logger) (*workspace.Workspace, error) {
	var ws *workspace.Workspace
	err := p.step(ctx, "prepare", func(context.Context) error {
		var err error
		ws, err = workspace.Reset(p.Settings.WorkspaceRoot)
		if err != nil {
			return err
		}
		n, err := ws.CopyActual(p.Settings.JSONDirectoryPath)
		if err != nil {
			return err
		}
		log.Info("copied actual snapshots", "from", p.Settings.JSONDirectoryPath, "files", n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: prepare workspace: %w", err)
	}
	return ws, nil
}

func (p *Pipeline) upload(ctx context.Context, log *slog.Logger, ws *workspace.Workspace) error {
	err := p.step(ctx, "upload", func(ctx context.Context) error {
		files, err := ws.Files()
		if err != nil {
			return err
		}
		return p.Uploader.Upload(ctx, ws.Root(), files, p.Settings.ArtifactName)
	})
	if err != nil {
		return fmt.Errorf("pipeline: upload artifact: %w", err)
	}
	log.Info("uploaded artifact", "name", p.Settings.ArtifactName)
	return nil
}

func (p *Pipeline) render(res Result, pr *event.PullRequest) (string, error) {
	in := report.Input{
		RepositoryURL: p.Runner.RepositoryURL(),
		RunURL:        p.Runner.RunURL(),
		CurrentSHA:    currentSHA(p.Runner, pr),
		ArtifactName:  p.Settings.ArtifactName,
		Output:        res.Output,
		Decision:      res.Decision,
	}
	if res.Target == nil {
		return report.WithoutTarget(in)
	}
	in.TargetSHA = res.Target.Run.HeadSHA
	if res.ReportDir != "" {
		in.ReportURL = p.Runner.RepositoryURL() + "/tree/" + p.Settings.Branch + "/" + res.ReportDir
	}
	return report.WithTarget(in)
}

func (p *Pipeline) comment(ctx context.Context, log *slog.Logger, issue int, body string) error {
	if p.Settings.UpdateComment {
		id, ok, err := p.Commenter.FindComment(ctx, issue, report.Marker(p.Settings.ArtifactName))
		if err != nil {
			return err
		}
		if ok {
			log.Info("updating report comment", "comment_id", id, "issue", issue)
			return p.Commenter.UpdateComment(ctx, id, body)
		}
	}
	log.Info("posting report comment", "issue", issue)
	return p.Commenter.PostComment(ctx, issue, body)
}

// export is best effort; failures are logged.
func (p *Pipeline) export(ctx context.Context, log *slog.Logger, ws *workspace.Workspace) int {
	if p.Export == nil {
		return 0
	}
	var n int
	err := p.step(ctx, "export", func(ctx context.Context) error {
		ms, err := compare.LoadDir(ws.ActualDir())
		if err != nil {
			return err
		}
		n, err = p.Export(ctx, ms)
		return err
	})
	if err != nil {
		log.Error("metric export failed", "error", err)
		return n
	}
	log.Info("exported metrics", "count", n)
	return n
}

func (p *Pipeline) writeOutputs(res Result, targetFound bool) error {
	if p.OutputsPath == "" {
		return nil
	}
	c := res.Output.Counts()
	err := actions.SetOutputs(p.OutputsPath, map[string]string{
		"over-threshold":   strconv.Itoa(c.OverThreshold),
		"within-threshold": strconv.Itoa(c.WithinThreshold),
		"new":              strconv.Itoa(c.New),
		"deleted":          strconv.Itoa(c.Deleted),
		"target-found":     strconv.FormatBool(targetFound),
		"verdict":          string(res.Decision.Verdict),
		"invocation-id":    res.InvocationID,
	})
	if err != nil {
		return fmt.Errorf("pipeline: step outputs: %w", err)
	}
	return nil
}

func (p *Pipeline) recordClasses(ctx context.Context, out compare.Output) {
	c := out.Counts()
	p.Metrics.RecordClassified(ctx, "over_threshold", c.OverThreshold)
	p.Metrics.RecordClassified(ctx, "within_threshold", c.WithinThreshold)
	p.Metrics.RecordClassified(ctx, "new", c.New)
	p.Metrics.RecordClassified(ctx, "deleted", c.Deleted)
}

// step runs fn inside a child span named pipeline.<name>.
func (p *Pipeline) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.Tracer().Start(ctx, "pipeline."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) engine() *policy.Engine {
	if p.Engine != nil {
		return p.Engine
	}
	return policy.NewEngine()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func currentSHA(c actions.Context, pr *event.PullRequest) string {
	if pr != nil && pr.HeadSHA != "" {
		return pr.HeadSHA
	}
	return c.SHA
}
