// Package event reads the webhook payload of the triggering workflow event.
package event

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// PullRequest carries the commits of the pull request under test.
type PullRequest struct {
	Number  int
	BaseSHA string
	HeadSHA string
	BaseRef string
	HeadRef string
}

// Event is the part of the payload the bot needs. PullRequest is nil for
// events without pull-request context (push, schedule, workflow_dispatch).
type Event struct {
	Repository  string
	PullRequest *PullRequest
}

// IsPullRequest reports whether the event carries pull-request context.
func (e Event) IsPullRequest() bool { return e.PullRequest != nil }

// Load reads and parses the event payload at path (GITHUB_EVENT_PATH). An
// empty path yields an empty Event.
func Load(path string) (Event, error) {
	if path == "" {
		return Event{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Event{}, fmt.Errorf("event: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse extracts the Event from a webhook payload.
func Parse(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, fmt.Errorf("event: payload is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	ev := Event{Repository: doc.Get("repository.full_name").String()}

	// pull_request and pull_request_target payloads both carry a top-level number.
	number := doc.Get("number")
	if !number.Exists() {
		number = doc.Get("pull_request.number")
	}
	if !number.Exists() || number.Type != gjson.Number {
		return ev, nil
	}

	pr := &PullRequest{
		Number:  int(number.Int()),
		BaseSHA: doc.Get("pull_request.base.sha").String(),
		HeadSHA: doc.Get("pull_request.head.sha").String(),
		BaseRef: doc.Get("pull_request.base.ref").String(),
		HeadRef: doc.Get("pull_request.head.ref").String(),
	}
	if pr.Number <= 0 {
		return Event{}, fmt.Errorf("event: invalid pull request number %d", pr.Number)
	}
	ev.PullRequest = pr
	return ev, nil
}
