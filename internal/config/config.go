// Package config loads the action inputs. GitHub Actions exposes an input
// named "json-directory-path" as INPUT_JSON-DIRECTORY-PATH; the same keys
// are available as command-line flags for local runs.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	awsconn "github.com/valreg/valreg-go/internal/connectors/aws"
)

// Input keys.
const (
	KeyGitHubToken         = "github-token"
	KeyJSONDirectoryPath   = "json-directory-path"
	KeyTargetHash          = "target-hash"
	KeyArtifactName        = "artifact-name"
	KeyBranch              = "branch"
	KeyDisableBranch       = "disable-branch"
	KeyUpdateComment       = "update-comment"
	KeyFailOnRegression    = "fail-on-regression"
	KeyWorkspace           = "workspace"
	KeyLogLevel            = "log-level"
	KeyLogFormat           = "log-format"
	KeyOTelEnabled         = "otel-enabled"
	KeyCloudWatchNamespace = "cloudwatch-namespace"
	KeyAWSRegion           = "aws-region"
	KeyAWSRoleARN          = "aws-role-arn"
)

// Defaults.
const (
	DefaultArtifactName = "valreg"
	DefaultBranch       = "value-regression-action"
	DefaultWorkspace    = ".valreg"
	DefaultAWSRegion    = "us-east-1"
)

var targetHashRe = regexp.MustCompile(`^[0-9a-f]{5,40}$`)

// Config holds the validated inputs of one invocation.
type Config struct {
	GitHubToken       string
	JSONDirectoryPath string
	TargetHash        string
	ArtifactName      string
	Branch            string
	DisableBranch     bool
	UpdateComment     bool
	FailOnRegression  bool
	Workspace         string

	LogLevel    string
	LogFormat   string
	OTelEnabled bool

	// CloudWatch export is enabled when CloudWatchNamespace is set.
	CloudWatchNamespace string
	AWSRegion           string
	AWSRoleARN          string
}

// NewViper returns a viper instance reading INPUT_* environment variables,
// with defaults applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("INPUT")
	v.AutomaticEnv()

	v.SetDefault(KeyArtifactName, DefaultArtifactName)
	v.SetDefault(KeyBranch, DefaultBranch)
	v.SetDefault(KeyWorkspace, DefaultWorkspace)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyAWSRegion, DefaultAWSRegion)
	return v
}

// RegisterFlags adds one flag per input to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyGitHubToken, "", "GitHub token (defaults to $GITHUB_TOKEN)")
	fs.String(KeyJSONDirectoryPath, "", "directory containing the current metric snapshots")
	fs.String(KeyTargetHash, "", "commit to compare against instead of the merge-base")
	fs.String(KeyArtifactName, DefaultArtifactName, "artifact name used to store snapshots")
	fs.String(KeyBranch, DefaultBranch, "branch receiving comparison reports")
	fs.String(KeyDisableBranch, "", "skip pushing reports to the branch (true/false)")
	fs.String(KeyUpdateComment, "", "edit the previous report comment instead of posting a new one (true/false)")
	fs.String(KeyFailOnRegression, "", "fail when any metric is over threshold (true/false)")
	fs.String(KeyWorkspace, DefaultWorkspace, "scratch directory, reset on every run")
	fs.String(KeyLogLevel, "info", "log level: debug, info, warn, error")
	fs.String(KeyLogFormat, "json", "log format: json or text")
	fs.String(KeyOTelEnabled, "", "export traces over OTLP (true/false)")
	fs.String(KeyCloudWatchNamespace, "", "CloudWatch namespace to export actual metrics to")
	fs.String(KeyAWSRegion, DefaultAWSRegion, "AWS region for CloudWatch export")
	fs.String(KeyAWSRoleARN, "", "IAM role assumed with the Actions OIDC token for CloudWatch export")
}

// BindFlags makes changed flags override environment inputs.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	return nil
}

// Load reads and validates the inputs.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		GitHubToken:         strings.TrimSpace(v.GetString(KeyGitHubToken)),
		JSONDirectoryPath:   strings.TrimSpace(v.GetString(KeyJSONDirectoryPath)),
		TargetHash:          strings.TrimSpace(v.GetString(KeyTargetHash)),
		ArtifactName:        strings.TrimSpace(v.GetString(KeyArtifactName)),
		Branch:              strings.TrimSpace(v.GetString(KeyBranch)),
		Workspace:           strings.TrimSpace(v.GetString(KeyWorkspace)),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
		CloudWatchNamespace: strings.TrimSpace(v.GetString(KeyCloudWatchNamespace)),
		AWSRegion:           strings.TrimSpace(v.GetString(KeyAWSRegion)),
		AWSRoleARN:          strings.TrimSpace(v.GetString(KeyAWSRoleARN)),
	}
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}

	var err error
	if cfg.DisableBranch, err = boolInput(v, KeyDisableBranch); err != nil {
		return Config{}, err
	}
	if cfg.UpdateComment, err = boolInput(v, KeyUpdateComment); err != nil {
		return Config{}, err
	}
	if cfg.FailOnRegression, err = boolInput(v, KeyFailOnRegression); err != nil {
		return Config{}, err
	}
	if cfg.OTelEnabled, err = boolInput(v, KeyOTelEnabled); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required inputs and formats.
func (c Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("config: %q is not set, please provide an API token", KeyGitHubToken)
	}
	if c.JSONDirectoryPath == "" {
		return fmt.Errorf("config: %q is not set, please specify the snapshot directory", KeyJSONDirectoryPath)
	}
	if fi, err := os.Stat(c.JSONDirectoryPath); err != nil || !fi.IsDir() {
		return fmt.Errorf("config: %q %q is not a directory", KeyJSONDirectoryPath, c.JSONDirectoryPath)
	}
	if c.TargetHash != "" && !targetHashRe.MatchString(c.TargetHash) {
		return fmt.Errorf("config: %q must be a commit hash, got %q", KeyTargetHash, c.TargetHash)
	}
	if c.ArtifactName == "" || strings.ContainsAny(c.ArtifactName, `/\:<>|*?"`) {
		return fmt.Errorf("config: invalid %q %q", KeyArtifactName, c.ArtifactName)
	}
	if c.Branch == "" {
		return fmt.Errorf("config: %q must not be empty", KeyBranch)
	}
	if c.Workspace == "" {
		return fmt.Errorf("config: %q must not be empty", KeyWorkspace)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("config: invalid %q %q (must be json or text)", KeyLogFormat, c.LogFormat)
	}
	if c.AWSRoleARN != "" {
		if err := awsconn.ValidateRoleARN(c.AWSRoleARN); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.AWSRoleARN != "" && c.CloudWatchNamespace == "" {
		return fmt.Errorf("config: %q requires %q", KeyAWSRoleARN, KeyCloudWatchNamespace)
	}
	return nil
}

// CloudWatchEnabled reports whether actual metrics are exported.
func (c Config) CloudWatchEnabled() bool { return c.CloudWatchNamespace != "" }

func boolInput(v *viper.Viper, key string) (bool, error) {
	switch s := strings.TrimSpace(v.GetString(key)); s {
	case "":
		return false, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("config: %q must be 'true' or 'false', got %q", key, s)
	}
}
