package proposal

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Candidate JSON paths for each field. The governance API has changed shape
// across versions; the first path present wins.
var (
	titlePaths   = []string{"title", "proposal.title"}
	summaryPaths = []string{"summary", "proposal.summary"}
	urlPaths     = []string{"url", "proposal.url"}
	actionPaths  = []string{"action", "proposal.action"}
	hashPaths    = []string{
		"payload.wasm_module_hash",
		"payload.expected_wasm_hash",
		"proposal.action.InstallCode.wasm_module_hash",
		"action_payload.wasm_module_hash",
	}
	targetPaths = []string{
		"payload.canister_id",
		"proposal.action.InstallCode.canister_id",
		"action_payload.canister_id",
	}
	commitPaths = []string{
		"payload.commit_hash",
		"payload.git_commit_id",
		"action_payload.commit_hash",
	}
)

var (
	hexRe    = regexp.MustCompile(`^[0-9a-f]+$`)
	commitRe = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// DefaultMaxResponseSize bounds the governance API response body.
const DefaultMaxResponseSize = 4 << 20

// HTTPSource reads proposals from a JSON governance API at <Endpoint>/<id>.
type HTTPSource struct {
	Endpoint string
	Client   HTTPClient
	Timeout  time.Duration // per request (0 = no extra timeout beyond context)
	MaxSize  int64         // max response size in bytes (0 = DefaultMaxResponseSize)
	Now      func() time.Time
}

func (s *HTTPSource) Get(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &MalformedError{ID: id, Reason: "empty proposal id"}
	}

	body, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &MalformedError{ID: id, Reason: "response is not valid JSON"}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return decodeRecord(id, gjson.ParseBytes(body), now().UTC())
}

func (s *HTTPSource) fetch(ctx context.Context, id string) ([]byte, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	target := strings.TrimRight(s.Endpoint, "/") + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &UnavailableError{ID: id, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &UnavailableError{ID: id, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	maxSize := s.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, &UnavailableError{ID: id, Err: fmt.Errorf("reading response: %w", err)}
	}
	if int64(len(body)) > maxSize {
		return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("response exceeds %d bytes", maxSize)}
	}
	return body, nil
}

// decodeRecord maps a governance API document onto a Record. A structured
// field that is present but not well-formed makes the whole record
// malformed rather than silently falling back to free-text recovery.
func decodeRecord(id string, doc gjson.Result, fetchedAt time.Time) (*Record, error) {
	rec := &Record{
		ID:        id,
		Title:     first(doc, titlePaths).String(),
		Summary:   first(doc, summaryPaths).String(),
		URL:       first(doc, urlPaths).String(),
		Action:    first(doc, actionPaths).String(),
		FetchedAt: fetchedAt,
	}
	if got := firstString(doc, "proposal_id", "id"); got != "" && got != id {
		return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("data source returned proposal %s", got)}
	}
	if rec.Title == "" && rec.Summary == "" && rec.URL == "" {
		return nil, &MalformedError{ID: id, Reason: "record has no title, summary or url"}
	}

	if v := first(doc, hashPaths); v.Exists() && v.Type != gjson.Null {
		h, err := hashHex(v)
		if err != nil {
			return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("expected artifact hash: %v", err)}
		}
		rec.ExpectedArtifactHash = h
	}

	if v := first(doc, targetPaths); v.Exists() && v.Type != gjson.Null {
		rec.TargetResourceID = strings.TrimSpace(v.String())
	}

	if v := first(doc, commitPaths); v.Exists() && v.Type != gjson.Null {
		c := strings.ToLower(strings.TrimSpace(v.String()))
		if !commitRe.MatchString(c) {
			return nil, &MalformedError{ID: id, Reason: fmt.Sprintf("commit hash %q is not 40 hex characters", v.String())}
		}
		rec.CommitHash = c
	}

	return rec, nil
}

// hashHex renders an on-chain hash as lowercase hex. The API encodes raw
// bytes either as a hex string or as a JSON array of byte values.
func hashHex(v gjson.Result) (string, error) {
	if v.IsArray() {
		arr := v.Array()
		if len(arr) == 0 {
			return "", errors.New("empty byte array")
		}
		raw := make([]byte, len(arr))
		for i, b := range arr {
			if b.Type != gjson.Number || b.Int() < 0 || b.Int() > 255 || float64(b.Int()) != b.Num {
				return "", fmt.Errorf("element %d is not a byte", i)
			}
			raw[i] = byte(b.Int())
		}
		return hex.EncodeToString(raw), nil
	}

	s := strings.ToLower(strings.TrimSpace(v.String()))
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s)%2 != 0 || !hexRe.MatchString(s) {
		return "", fmt.Errorf("%q is not a hex string", v.String())
	}
	return s, nil
}

func first(doc gjson.Result, paths []string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, paths ...string) string {
	return strings.TrimSpace(first(doc, paths).String())
}
