package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/internal/state"
	"github.com/picklr-io/splunk-stack/providers/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the command tree in a scratch directory and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFormatPkl(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "trailing whitespace",
			input:    "stackName = \"splunk\"   \nregion = \"us-east-1\"  \n",
			expected: "stackName = \"splunk\"\nregion = \"us-east-1\"\n",
		},
		{
			name:     "ensure trailing newline",
			input:    "maxAzs = 2",
			expected: "maxAzs = 2\n",
		},
		{
			name:     "collapse blank lines",
			input:    "a = 1\n\n\n\nb = 2\n",
			expected: "a = 1\n\nb = 2\n",
		},
		{
			name:     "already formatted",
			input:    "a = 1\nb = 2\n",
			expected: "a = 1\nb = 2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatPkl(tt.input))
		})
	}
}

func TestColorize(t *testing.T) {
	p := &printer{}
	assert.Equal(t, colorRed, p.colorize(colorRed))

	p.noColor = true
	assert.Equal(t, "", p.colorize(colorRed))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"t2.micro"`, formatValue("t2.micro"))
	assert.Equal(t, "8000", formatValue(float64(8000)))
	assert.Equal(t, "0.5", formatValue(0.5))
	assert.Equal(t, "true", formatValue(true))
}

func TestBackendConfig(t *testing.T) {
	tests := []struct {
		name     string
		location string
		want     *state.BackendConfig
		wantErr  bool
	}{
		{
			name: "default",
			want: &state.BackendConfig{Type: "local", Config: map[string]string{"path": state.DefaultPath}},
		},
		{
			name:     "local path",
			location: "envs/prod.yaml",
			want:     &state.BackendConfig{Type: "local", Config: map[string]string{"path": "envs/prod.yaml"}},
		},
		{
			name:     "s3 with key",
			location: "s3://tfstate/splunk/prod.yaml",
			want: &state.BackendConfig{Type: "s3", Config: map[string]string{
				"bucket": "tfstate", "key": "splunk/prod.yaml", "region": "eu-west-1",
				"encrypt": "true", "dynamodb_table": "locks",
			}},
		},
		{
			name:     "s3 bucket only",
			location: "s3://tfstate",
			want: &state.BackendConfig{Type: "s3", Config: map[string]string{
				"bucket": "tfstate", "region": "eu-west-1", "encrypt": "true", "dynamodb_table": "locks",
			}},
		},
		{
			name:     "s3 without bucket",
			location: "s3:///key",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := backendConfig(tt.location, "eu-west-1", "locks")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderPlanChanges(t *testing.T) {
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "aws:EC2.ImageLookup.splunk",
				Action:  "REPLACE",
				Desired: &ir.Resource{Type: aws.TypeImageLookup, Name: "splunk"},
				Diff: map[string]*ir.PropertyDiff{
					"namePattern": {Before: "splunk_AMI_8.2.0_2021*", After: "splunk_AMI_9.0*", Action: "update", ForcesReplacement: true},
				},
			},
			{
				Address: "aws:EC2.Instance.old",
				Action:  "DELETE",
				Prior:   &ir.Resource{Type: aws.TypeInstance, Name: "old"},
				Diff: map[string]*ir.PropertyDiff{
					"instanceType": {Before: "t2.micro", Action: "delete"},
				},
			},
		},
		Summary: &ir.PlanSummary{Replace: 1, Delete: 1},
	}

	var buf bytes.Buffer
	p := &printer{out: &buf, noColor: true}
	p.renderPlanChanges(plan)
	p.renderPlanSummary(plan)
	out := buf.String()

	assert.Contains(t, out, "# aws:EC2.ImageLookup.splunk will be replaced")
	assert.Contains(t, out, `-/+ resource "aws:EC2.ImageLookup" "splunk" {`)
	assert.Contains(t, out, `~ namePattern = "splunk_AMI_8.2.0_2021*" -> "splunk_AMI_9.0*" # forces replacement`)
	assert.Contains(t, out, "# aws:EC2.Instance.old will be destroyed")
	assert.Contains(t, out, `- instanceType = "t2.micro"`)
	assert.Contains(t, out, "Plan: 0 to create, 0 to update, 1 to replace, 1 to delete.")
	assert.NotContains(t, out, "\033[")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"yes", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.want, confirm(strings.NewReader(tt.input), &out, "Proceed?"))
			assert.Contains(t, out.String(), "Proceed? (y/n): ")
		})
	}
}

func TestSynthCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "synth", "--variant", "load-balanced", "-D", "stackName=demo", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "variant: load-balanced")
	assert.Contains(t, out, "demo-lb")

	first, err := run(t, "synth")
	require.NoError(t, err)
	second, err := run(t, "synth")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(first), &doc))
	assert.Equal(t, "minimal", doc["variant"])

	_, err = run(t, "synth", "-D", "maxAzs=zero")
	assert.ErrorContains(t, err, "not an integer")
}

func TestValidateCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "validate", "--all", "-D", "domainName=example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Checking minimal... OK")
	assert.Contains(t, out, "Checking load-balanced... OK")
	assert.Contains(t, out, "Checking tls... OK")
	assert.Contains(t, out, "Stack is valid!")

	_, err = run(t, "validate", "--variant", "tls")
	assert.ErrorContains(t, err, "domainName")
}

func TestValidateTemplate(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "synth", "--variant", "load-balanced", "--format", "yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile("lb.yaml", []byte(out), 0o644))

	out, err = run(t, "validate", "--template", "lb.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Checking lb.yaml (load-balanced)... OK")
	assert.Contains(t, out, "Template is valid!")

	out, err = run(t, "validate", "--template", "lb.yaml", "--variant", "minimal")
	assert.ErrorContains(t, err, "violation(s) found")
	assert.Contains(t, out, "unreachable")

	_, err = run(t, "validate", "--template", "missing.json")
	assert.ErrorContains(t, err, "failed to read template")

	_, err = run(t, "validate", "--template", "lb.yaml", "--all")
	assert.Error(t, err)
}

func TestGraphCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "graph")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph splunkstack {\n"))
	assert.Contains(t, out, `"aws:EC2.Instance.splunk" -> "aws:EC2.ImageLookup.splunk";`)
	assert.Contains(t, out, `"aws:EC2.Subnet.private-0" -> "aws:EC2.Vpc.vpc";`)
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func TestInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "init", "--variant", "tls")
	require.NoError(t, err)
	assert.Contains(t, out, "Created stack.pkl")

	data, err := os.ReadFile("stack.pkl")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `stackName = "splunk"`)
	assert.Contains(t, content, `variant = "tls"`)
	assert.Contains(t, content, `// domainName = "example.com"`)
	assert.Equal(t, content, formatPkl(content))

	_, err = run(t, "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--force")
	require.NoError(t, err)

	out, err = run(t, "fmt", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "All 1 file(s) are properly formatted.")
}

func TestStateCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	statePath := filepath.Join(dir, "state.yaml")

	s := state.New()
	s.Serial = 4
	s.Stack = "splunk"
	s.Variant = "minimal"
	s.Resources = []*ir.ResourceState{
		{
			Type:     aws.TypeVpc,
			Name:     "vpc",
			Provider: "aws",
			Inputs:   map[string]any{"cidrBlock": "10.0.0.0/16"},
			Outputs:  map[string]any{"id": "vpc-0123"},
		},
		{
			Type:         aws.TypeInstance,
			Name:         "splunk",
			Provider:     "aws",
			Inputs:       map[string]any{"instanceType": "t2.micro"},
			Outputs:      map[string]any{"id": "i-0abc", "privateIp": "10.0.128.10"},
			Dependencies: []string{"aws:EC2.Vpc.vpc"},
		},
	}
	s.Outputs = map[string]any{"instanceId": "i-0abc", "privateIp": "10.0.128.10"}
	require.NoError(t, state.NewManager(statePath).Write(context.Background(), s))

	out, err := run(t, "output", "--state", statePath)
	require.NoError(t, err)
	assert.Equal(t, "instanceId = \"i-0abc\"\nprivateIp = \"10.0.128.10\"\n", out)

	out, err = run(t, "output", "instanceId", "--json", "--state", statePath)
	require.NoError(t, err)
	assert.Equal(t, "\"i-0abc\"\n", out)

	_, err = run(t, "output", "missing", "--state", statePath)
	assert.ErrorContains(t, err, `output "missing" not found`)

	out, err = run(t, "state", "list", "--state", statePath)
	require.NoError(t, err)
	assert.Equal(t, "aws:EC2.Vpc.vpc\naws:EC2.Instance.splunk\n", out)

	out, err = run(t, "state", "show", "aws:EC2.Instance.splunk", "--state", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, `instanceType = "t2.micro"`)
	assert.Contains(t, out, `privateIp = "10.0.128.10"`)

	out, err = run(t, "show", "--state", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, "Stack: splunk (minimal)")
	assert.Contains(t, out, "Resources: 2")

	out, err = run(t, "state", "rm", "aws:EC2.Instance.splunk", "--state", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed aws:EC2.Instance.splunk")

	after, err := state.NewManager(statePath).Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, after.Resources, 1)
	assert.Equal(t, 5, after.Serial)
	assert.Equal(t, s.Lineage, after.Lineage)
	_, err = os.Stat(statePath + ".lock")
	assert.True(t, os.IsNotExist(err), "lock released")

	_, err = run(t, "state", "rm", "aws:EC2.Instance.splunk", "--state", statePath)
	assert.ErrorContains(t, err, "not found")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "splunkstack version dev")
}
