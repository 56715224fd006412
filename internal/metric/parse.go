package metric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// snapshotSchema describes one snapshot file: metric name -> number | {value, ...}.
const snapshotSchema = `{
  "type": "object",
  "additionalProperties": {
    "oneOf": [
      {"type": "number"},
      {
        "type": "object",
        "required": ["value"],
        "properties": {
          "value": {"type": "number"},
          "threshold": {"type": "number", "minimum": 0},
          "unit": {"type": "string"},
          "decimalDigits": {"type": "integer"}
        }
      }
    ]
  }
}`

var compiledSchema = jsonschema.MustCompileString("snapshot.schema.json", snapshotSchema)

// ParseError reports a malformed snapshot file.
type ParseError struct {
	File   string
	Metric string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("metric: parse %s: %q: %v", e.File, e.Metric, e.Err)
	}
	return fmt.Sprintf("metric: parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseSnapshot reads the snapshot at path. The resulting FileName is path
// relative to root in slash form, so nested snapshots keep distinct identities.
func ParseSnapshot(root, path string) ([]Metric, error) {
	name, err := filepath.Rel(root, path)
	if err != nil {
		name = filepath.Base(path)
	}
	name = filepath.ToSlash(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: name, Err: err}
	}
	return ParseSnapshotBytes(name, data)
}

// ParseSnapshotBytes parses snapshot contents attributed to fileName.
// Metrics are returned in document order.
func ParseSnapshotBytes(fileName string, data []byte) ([]Metric, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{File: fileName, Err: fmt.Errorf("invalid JSON")}
	}
	if err := validate(data); err != nil {
		return nil, &ParseError{File: fileName, Err: err}
	}

	var (
		metrics []Metric
		seen    = make(map[string]struct{})
		perr    error
	)
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if _, dup := seen[name]; dup {
			perr = &ParseError{File: fileName, Metric: name, Err: fmt.Errorf("duplicate metric")}
			return false
		}
		seen[name] = struct{}{}

		m, err := entryToMetric(fileName, name, value)
		if err != nil {
			perr = &ParseError{File: fileName, Metric: name, Err: err}
			return false
		}
		metrics = append(metrics, m)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return metrics, nil
}

func entryToMetric(fileName, name string, v gjson.Result) (Metric, error) {
	m := Metric{
		FileName:      fileName,
		MetricName:    name,
		Threshold:     DefaultThreshold,
		Unit:          DefaultUnit,
		DecimalDigits: DefaultDecimalDigits,
	}

	switch {
	case v.Type == gjson.Number:
		m.Value = v.Num
	case v.IsObject():
		val := v.Get("value")
		if val.Type != gjson.Number {
			return Metric{}, fmt.Errorf("value must be a number")
		}
		m.Value = val.Num
		if t := v.Get("threshold"); t.Exists() {
			m.Threshold = t.Num
		}
		if u := v.Get("unit"); u.Exists() {
			m.Unit = u.Str
		}
		if d := v.Get("decimalDigits"); d.Exists() {
			m.DecimalDigits = int(d.Int())
		}
	default:
		return Metric{}, fmt.Errorf("entry must be a number or an object with a numeric value")
	}
	return m, nil
}

func validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return compiledSchema.Validate(doc)
}
