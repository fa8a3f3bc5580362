package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/journey/internal/presentation/tui"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/aretw0/journey/pkg/ports"
	"gopkg.in/yaml.v3"
)

// Printer writes command results either as JSON or as rendered markdown.
type Printer struct {
	Out      io.Writer
	JSON     bool
	Render   func(string) (string, error)
	Redactor *middleware.Redactor
}

// NewPrinter prints to f, rendering markdown with glamour when f is a terminal.
func NewPrinter(f *os.File, asJSON bool, redactor *middleware.Redactor) *Printer {
	return &Printer{Out: f, JSON: asJSON, Render: tui.NewRenderer(f), Redactor: redactor}
}

// ResultView is the JSON shape of a domain.Result.
type ResultView struct {
	Progress     domain.Progress            `json:"progress"`
	Responses    map[string]domain.Response `json:"responses"`
	Outcome      domain.Outcome             `json:"outcome,omitempty"`
	Blocking     []string                   `json:"blocking,omitempty"`
	Source       domain.Source              `json:"source"`
	Degraded     bool                       `json:"degraded"`
	DurableError string                     `json:"durable_error,omitempty"`
	CacheError   string                     `json:"cache_error,omitempty"`
}

func newResultView(res domain.Result) ResultView {
	v := ResultView{
		Progress:  res.Progress,
		Responses: res.Responses,
		Outcome:   res.Outcome,
		Blocking:  res.Blocking,
		Source:    res.Source,
		Degraded:  res.Degraded(),
	}
	if res.Durable != nil {
		v.DurableError = res.Durable.Error()
	}
	if res.Cache != nil {
		v.CacheError = res.Cache.Error()
	}
	return v
}

// Result prints a session state against its playbook definition.
func (p *Printer) Result(def domain.Definition, res domain.Result) error {
	if p.Redactor != nil {
		res.Responses = p.Redactor.Responses(res.Responses)
	}
	if p.JSON {
		return p.Value(newResultView(res))
	}
	return p.Markdown(tui.StatusMarkdown(def, res) + tui.ResponsesMarkdown(res.Responses))
}

// Value prints v as indented JSON.
func (p *Printer) Value(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Markdown renders md and prints it.
func (p *Printer) Markdown(md string) error {
	out := md
	if p.Render != nil {
		rendered, err := p.Render(md)
		if err != nil {
			return err
		}
		out = rendered
	}
	_, err := fmt.Fprint(p.Out, out)
	return err
}

// Line prints a plain message, or {"message": ...} in JSON mode.
func (p *Printer) Line(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.JSON {
		return p.Value(map[string]string{"message": msg})
	}
	_, err := fmt.Fprintln(p.Out, msg)
	return err
}

// LoadDefinition reads a playbook and its items.
func LoadDefinition(ctx context.Context, defs ports.DefinitionStore, playbookID string) (domain.Definition, error) {
	pb, err := defs.GetPlaybook(ctx, playbookID)
	if err != nil {
		return domain.Definition{}, err
	}
	items, err := defs.GetItems(ctx, playbookID)
	if err != nil {
		return domain.Definition{}, err
	}
	return domain.Definition{Playbook: pb, Items: items}, nil
}

// ReadPayload parses a response payload given on the command line.
// "-" reads JSON from stdin, "@path" reads a JSON or YAML file, anything else
// is parsed as inline JSON.
func ReadPayload(arg string, stdin io.Reader) (map[string]any, error) {
	var (
		data []byte
		err  error
		yml  bool
	)
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		path := strings.TrimPrefix(arg, "@")
		data, err = os.ReadFile(path)
		ext := strings.ToLower(filepath.Ext(path))
		yml = ext == ".yaml" || ext == ".yml"
	default:
		data = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	payload := map[string]any{}
	if yml {
		err = yaml.Unmarshal(data, &payload)
	} else {
		err = domain.DecodeJSON(data, &payload)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}

// Describe turns engine errors into a message meant for a terminal.
func Describe(err error) string {
	var (
		validation *domain.ValidationError
		conflict   *domain.RecoveryConflictError
	)
	switch {
	case errors.As(err, &validation):
		var sb strings.Builder
		fmt.Fprintf(&sb, "response to %q was rejected:", validation.ItemID)
		fields := validation.Fields()
		if len(fields) == 0 {
			fmt.Fprintf(&sb, " %v", validation.Err)
		}
		for _, f := range fields {
			fmt.Fprintf(&sb, "\n  - %s", f.Error())
		}
		return sb.String()
	case errors.As(err, &conflict):
		msg := fmt.Sprintf("the local copy of %s differs from the server", conflict.Key)
		if conflict.Durable != nil && conflict.Cached != nil {
			msg += fmt.Sprintf(" (server %s, local %s)",
				conflict.Durable.UpdatedAt.Format(time.RFC3339), conflict.Cached.LastSavedAt.Format(time.RFC3339))
		}
		return msg + "\nrun `journey resolve --keep durable|local` to choose one"
	case errors.Is(err, domain.ErrProgressNotFound):
		return "playbook not started; run `journey start` first"
	}
	return err.Error()
}

// ParseKey reads a "user/playbook" session key. The playbook id is everything
// after the last slash.
func ParseKey(s string) (domain.SessionKey, error) {
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return domain.SessionKey{}, fmt.Errorf("invalid session %q: want user/playbook", s)
	}
	key := domain.NewSessionKey(s[:i], s[i+1:])
	return key, key.Validate()
}
