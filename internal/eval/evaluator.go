// Package eval reads stack settings from a Pkl module.
package eval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"
	"github.com/picklr-io/splunk-stack/internal/topology"
)

// Evaluator handles PKL evaluation of settings modules.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadSettings evaluates the settings module at path and lays it over
// topology.DefaultSettings. An empty path yields the defaults. Properties are
// visible to the module as read("prop:<name>").
//
// Properties left at their zero value keep the default.
func (e *Evaluator) LoadSettings(ctx context.Context, path string, properties map[string]string) (topology.Settings, error) {
	defaults := topology.DefaultSettings()
	if path == "" {
		return defaults, nil
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(e.projectDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return defaults, fmt.Errorf("settings module %s: %w", path, err)
	}

	evaluator, err := e.newEvaluator(ctx, properties)
	if err != nil {
		return defaults, err
	}
	defer evaluator.Close()

	var file topology.Settings
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &file); err != nil {
		return defaults, fmt.Errorf("failed to evaluate settings %s: %w", path, err)
	}

	return Merge(defaults, file), nil
}

// newEvaluator uses the PklProject in the project directory when there is one
// so settings modules can import declared dependencies.
func (e *Evaluator) newEvaluator(ctx context.Context, properties map[string]string) (pkl.Evaluator, error) {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	projectFile := filepath.Join(e.projectDir, "PklProject")
	if _, err := os.Stat(projectFile); errors.Is(err, os.ErrNotExist) {
		evaluator, err := pkl.NewEvaluator(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
		}
		return evaluator, nil
	}

	dir, err := filepath.Abs(e.projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	u, err := url.Parse("file://" + filepath.ToSlash(dir) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, u, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL project evaluator: %w", err)
	}
	return evaluator, nil
}

// Merge lays every non-zero field of over onto base. Tags are merged key by
// key.
func Merge(base, over topology.Settings) topology.Settings {
	out := base
	setString(&out.StackName, over.StackName)
	setString(&out.Region, over.Region)
	setString(&out.Variant, over.Variant)
	setString(&out.VpcCidr, over.VpcCidr)
	setString(&out.InstanceType, over.InstanceType)
	setString(&out.ImageNamePattern, over.ImageNamePattern)
	setString(&out.DomainName, over.DomainName)
	setString(&out.Subdomain, over.Subdomain)
	setInt(&out.MaxAzs, over.MaxAzs)
	setInt(&out.AppPort, over.AppPort)
	setInt(&out.CollectorPort, over.CollectorPort)
	setInt(&out.ManagementPort, over.ManagementPort)

	if len(over.ImageOwners) > 0 {
		out.ImageOwners = append([]string(nil), over.ImageOwners...)
	}
	if len(over.Tags) > 0 {
		tags := make(map[string]string, len(base.Tags)+len(over.Tags))
		for k, v := range base.Tags {
			tags[k] = v
		}
		for k, v := range over.Tags {
			tags[k] = v
		}
		out.Tags = tags
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
