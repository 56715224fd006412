// Package cloudwatch exports actual metric snapshots to Amazon CloudWatch
// so they can be graphed across runs.
package cloudwatch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/valreg/valreg-go/internal/metric"
	"github.com/valreg/valreg-go/internal/retry"
)

// MaxBatch is the number of datums sent per PutMetricData call.
const MaxBatch = 500

// API is the subset of the CloudWatch client used by this package.
type API interface {
	PutMetricData(ctx context.Context, params *cw.PutMetricDataInput, optFns ...func(*cw.Options)) (*cw.PutMetricDataOutput, error)
}

// Client wraps the CloudWatch API.
type Client struct {
	api    API
	policy retry.Policy
	now    func() time.Time
}

// New creates a CloudWatch client from an AWS config.
func New(cfg aws.Config, policy retry.Policy) *Client {
	return &Client{api: cw.NewFromConfig(cfg), policy: policy, now: time.Now}
}

// NewFromAPI creates a Client from an explicit API implementation (for testing).
func NewFromAPI(api API, policy retry.Policy) *Client {
	return &Client{api: api, policy: policy, now: time.Now}
}

// Dimensions are attached to every exported datum.
type Dimensions struct {
	Repository   string
	ArtifactName string
	Branch       string
}

// Publish writes ms to namespace, one datum per metric with the snapshot
// file as an extra dimension. Non-finite values are skipped. It returns the
// number of datums written.
func (c *Client) Publish(ctx context.Context, namespace string, dims Dimensions, ms []metric.Metric) (int, error) {
	ts := c.now().UTC()
	data := make([]cwtypes.MetricDatum, 0, len(ms))
	for _, m := range ms {
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(m.MetricName),
			Value:      aws.Float64(m.Value),
			Unit:       Unit(m.Unit),
			Timestamp:  aws.Time(ts),
			Dimensions: dims.list(m.FileName),
		})
	}

	sent := 0
	for start := 0; start < len(data); start += MaxBatch {
		end := min(start+MaxBatch, len(data))
		batch := data[start:end]
		err := retry.Do(ctx, c.policy, "cloudwatch.PutMetricData", func(ctx context.Context) error {
			_, err := c.api.PutMetricData(ctx, &cw.PutMetricDataInput{
				Namespace:  aws.String(namespace),
				MetricData: batch,
			})
			return err
		})
		if err != nil {
			return sent, fmt.Errorf("cloudwatch: put metric data: %w", err)
		}
		sent += len(batch)
	}
	return sent, nil
}

func (d Dimensions) list(file string) []cwtypes.Dimension {
	out := []cwtypes.Dimension{{Name: aws.String("File"), Value: aws.String(file)}}
	if d.Repository != "" {
		out = append(out, cwtypes.Dimension{Name: aws.String("Repository"), Value: aws.String(d.Repository)})
	}
	if d.ArtifactName != "" {
		out = append(out, cwtypes.Dimension{Name: aws.String("ArtifactName"), Value: aws.String(d.ArtifactName)})
	}
	if d.Branch != "" {
		out = append(out, cwtypes.Dimension{Name: aws.String("Branch"), Value: aws.String(d.Branch)})
	}
	return out
}

// Unit maps a snapshot unit suffix to a CloudWatch unit.
func Unit(u string) cwtypes.StandardUnit {
	switch strings.TrimSpace(u) {
	case "ms":
		return cwtypes.StandardUnitMilliseconds
	case "s", "sec":
		return cwtypes.StandardUnitSeconds
	case "us", "µs":
		return cwtypes.StandardUnitMicroseconds
	case "B":
		return cwtypes.StandardUnitBytes
	case "KB", "kB":
		return cwtypes.StandardUnitKilobytes
	case "MB":
		return cwtypes.StandardUnitMegabytes
	case "GB":
		return cwtypes.StandardUnitGigabytes
	case "%":
		return cwtypes.StandardUnitPercent
	default:
		return cwtypes.StandardUnitNone
	}
}
