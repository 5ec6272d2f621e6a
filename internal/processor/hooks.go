package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/FranksOps/serpent/internal/analyzer"
	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/PuerkitoBio/goquery"
)

// HookInput is what a hook sees of a processed page.
type HookInput struct {
	Unit           serp.UnitOfWork
	Query          serp.SearchQuery
	Document       *goquery.Document
	HTML           []byte
	Fetch          *scraper.FetchResult
	OrganicResults []serp.OrganicResult
}

// Hook computes custom data for a page. The returned value is stored as the
// record's customData; an error fails the page.
type Hook interface {
	Process(ctx context.Context, in HookInput) (any, error)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, in HookInput) (any, error)

func (f HookFunc) Process(ctx context.Context, in HookInput) (any, error) {
	return f(ctx, in)
}

// HookError wraps a hook failure for one page.
type HookError struct {
	URL string
	Err error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("custom data hook failed for %s: %v", e.URL, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// HookConfig selects one of the built-in hooks.
type HookConfig struct {
	// Name is "", "terms" or "exec".
	Name    string
	Terms   []string
	Command string
	Timeout time.Duration
}

// NewHook builds the hook named by cfg; an empty name returns nil.
func NewHook(cfg HookConfig) (Hook, error) {
	switch strings.ToLower(cfg.Name) {
	case "":
		return nil, nil
	case "terms":
		if len(cfg.Terms) == 0 {
			return nil, errors.New("terms hook: no terms configured")
		}
		return &TermsHook{Terms: cfg.Terms, MaxSentences: 3}, nil
	case "exec":
		argv := strings.Fields(cfg.Command)
		if len(argv) == 0 {
			return nil, errors.New("exec hook: no command configured")
		}
		return &ExecHook{Command: argv, Timeout: cfg.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown hook %q", cfg.Name)
	}
}

// TermsHook counts configured terms in the visible page text and the rank
// of the first organic result mentioning each.
type TermsHook struct {
	Terms        []string
	MaxSentences int
}

func (h *TermsHook) Process(_ context.Context, in HookInput) (any, error) {
	if in.Document == nil {
		return nil, errors.New("no document")
	}
	text := strings.Join(strings.Fields(in.Document.Find("body").Text()), " ")
	matches := analyzer.FindTermMatches(text, h.Terms, h.MaxSentences)
	analyzer.RankTerms(matches, in.OrganicResults)
	if matches == nil {
		matches = []analyzer.TermMatch{}
	}
	return matches, nil
}

// ExecHook runs an external command per page. The command receives a JSON
// object on stdin and must print a JSON value (or nothing) on stdout.
type ExecHook struct {
	Command []string
	// Timeout defaults to 30s.
	Timeout time.Duration
	// Env is appended to the current environment.
	Env []string
}

type execPayload struct {
	URL            string               `json:"url"`
	SearchQuery    serp.SearchQuery     `json:"searchQuery"`
	OrganicResults []serp.OrganicResult `json:"organicResults"`
	HTML           string               `json:"html"`
}

func (h *ExecHook) Process(ctx context.Context, in HookInput) (any, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(execPayload{
		URL:            in.Unit.URL,
		SearchQuery:    in.Query,
		OrganicResults: in.OrganicResults,
		HTML:           string(in.HTML),
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.Command[0], h.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(h.Env) > 0 {
		cmd.Env = append(os.Environ(), h.Env...)
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", h.Command[0], err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, fmt.Errorf("decode output of %s: %w", h.Command[0], err)
	}
	return v, nil
}
