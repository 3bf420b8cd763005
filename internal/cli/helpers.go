package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/picklr-io/splunk-stack/internal/engine"
	"github.com/picklr-io/splunk-stack/internal/eval"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/internal/provider"
	"github.com/picklr-io/splunk-stack/internal/state"
	"github.com/picklr-io/splunk-stack/internal/topology"
)

const (
	defaultSettingsPath = "stack.pkl"
	defaultStatePath    = state.DefaultPath
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// loadSettings evaluates the settings module, then applies -D overrides and
// --variant. The default module is optional; a named one must exist.
func (o *options) loadSettings(ctx context.Context) (topology.Settings, error) {
	path := o.settingsPath
	if path == defaultSettingsPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	dir := "."
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return topology.Settings{}, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		dir, path = filepath.Dir(abs), abs
	}

	s, err := eval.NewEvaluator(dir).LoadSettings(ctx, path, o.properties)
	if err != nil {
		return s, err
	}
	if err := s.ApplyOverrides(o.properties); err != nil {
		return s, err
	}
	if o.variant != "" {
		s.Variant = o.variant
	}
	return s, nil
}

// loadStack loads settings and builds the selected variant.
func (o *options) loadStack(ctx context.Context) (topology.Settings, *ir.Config, error) {
	s, err := o.loadSettings(ctx)
	if err != nil {
		return s, nil, err
	}
	cfg, err := topology.Build("", s)
	if err != nil {
		return s, nil, err
	}
	return s, cfg, nil
}

// backendConfig maps the --state location to a backend.
func backendConfig(location, region, lockTable string) (*state.BackendConfig, error) {
	if location == "" {
		location = defaultStatePath
	}
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return &state.BackendConfig{Type: "local", Config: map[string]string{"path": location}}, nil
	}

	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("invalid state location %q: missing bucket", location)
	}
	cfg := map[string]string{"bucket": bucket, "region": region, "encrypt": "true"}
	if key != "" {
		cfg["key"] = key
	}
	if lockTable != "" {
		cfg["dynamodb_table"] = lockTable
	}
	return &state.BackendConfig{Type: "s3", Config: cfg}, nil
}

// openBackend opens the state named by --state. Remote state lives in the
// settings region.
func (o *options) openBackend(ctx context.Context) (state.Backend, error) {
	region := ""
	if strings.HasPrefix(o.statePath, "s3://") {
		s, err := o.loadSettings(ctx)
		if err != nil {
			return nil, err
		}
		region = s.Region
	}

	cfg, err := backendConfig(o.statePath, region, o.lockTable)
	if err != nil {
		return nil, err
	}
	if o.profile != "" {
		cfg.Config["profile"] = o.profile
	}
	return state.NewBackend(ctx, cfg)
}

// newEngine returns an engine whose aws provider targets the settings region.
func (o *options) newEngine(s topology.Settings) *engine.Engine {
	registry := provider.NewRegistry()
	awsConfig := map[string]string{"region": s.Region}
	if o.profile != "" {
		awsConfig["profile"] = o.profile
	}
	registry.SetConfig("aws", awsConfig)
	return engine.NewEngine(registry)
}

// printer writes plan and progress output, colored unless disabled.
type printer struct {
	out     io.Writer
	noColor bool
}

func (o *options) printer(out io.Writer) *printer {
	return &printer{out: out, noColor: o.noColor}
}

func (p *printer) colorize(code string) string {
	if p.noColor {
		return ""
	}
	return code
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func actionColor(action string) string {
	switch action {
	case "CREATE":
		return colorGreen
	case "DELETE":
		return colorRed
	case "UPDATE", "REPLACE":
		return colorYellow
	}
	return colorReset
}

func actionPhrase(action string) string {
	switch action {
	case "CREATE":
		return "created"
	case "UPDATE":
		return "updated in-place"
	case "REPLACE":
		return "replaced"
	case "DELETE":
		return "destroyed"
	}
	return strings.ToLower(action)
}

func actionSymbol(action string) string {
	switch action {
	case "CREATE":
		return "+"
	case "DELETE":
		return "-"
	case "REPLACE":
		return "-/+"
	case "NOOP":
		return " "
	}
	return "~"
}

// renderPlanChanges prints the detailed change list for a plan.
func (p *printer) renderPlanChanges(plan *ir.Plan) {
	reset := p.colorize(colorReset)
	for _, change := range plan.Changes {
		color := p.colorize(actionColor(change.Action))

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		p.printf("\n%s  # %s will be %s%s\n", color, change.Address, actionPhrase(change.Action), reset)
		p.printf("%s  %s resource %q %q {%s\n", color, actionSymbol(change.Action), resourceType, resourceName, reset)
		p.renderPropertyDiff(change.Diff)
		p.printf("%s    }%s\n", color, reset)
	}
}

// renderPropertyDiff prints structured property diffs in key order.
func (p *printer) renderPropertyDiff(diff map[string]*ir.PropertyDiff) {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	reset := p.colorize(colorReset)
	for _, key := range keys {
		d := diff[key]
		suffix := ""
		if d.ForcesReplacement {
			suffix = " # forces replacement"
		}
		switch d.Action {
		case "create":
			p.printf("%s      + %s = %s%s%s\n", p.colorize(colorGreen), key, formatValue(d.After), suffix, reset)
		case "delete":
			p.printf("%s      - %s = %s%s%s\n", p.colorize(colorRed), key, formatValue(d.Before), suffix, reset)
		case "update":
			p.printf("%s      ~ %s = %s -> %s%s%s\n", p.colorize(colorYellow), key, formatValue(d.Before), formatValue(d.After), suffix, reset)
		default:
			p.printf("        %s = %s\n", key, formatValue(d.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func (p *printer) renderPlanSummary(plan *ir.Plan) {
	p.printf("\nPlan: %d to create, %d to update, %d to replace, %d to delete.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace, plan.Summary.Delete)
}

// progress renders apply events as they happen.
func (p *printer) progress(event engine.ApplyEvent) {
	switch event.Status {
	case "started":
		p.printf("%s: %s...\n", event.Address, progressVerb(event.Action))
	case "completed":
		p.printf("%s: %s complete after %s\n", event.Address, progressVerb(event.Action), event.Duration.Round(time.Second))
	case "failed":
		p.printf("%s%s: %s failed: %v%s\n", p.colorize(colorRed), event.Address, progressVerb(event.Action), event.Error, p.colorize(colorReset))
	case "skipped":
		p.printf("%s: skipped, a dependency failed\n", event.Address)
	}
}

func progressVerb(action string) string {
	switch action {
	case "CREATE", "REPLACE":
		return "Creating"
	case "UPDATE":
		return "Modifying"
	case "DELETE", "REPLACE(delete)":
		return "Destroying"
	}
	return action
}

// renderOutputs prints outputs in key order.
func (p *printer) renderOutputs(outputs map[string]any) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.printf("%s = %s\n", k, formatValue(outputs[k]))
	}
}

// confirm asks for approval and accepts "y" or "yes".
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "\n%s (y/n): ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// withLock runs fn while holding the state lock.
func withLock(ctx context.Context, backend state.Backend, fn func() error) (err error) {
	if err := backend.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := backend.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}()
	return fn()
}
