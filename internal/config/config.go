// Package config loads and validates the YAML workload description. A
// validated Config is immutable for the duration of a run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/flux/internal/template"
	"github.com/studiowebux/flux/internal/types"
)

const (
	ModeAsync = "async"
	ModeSync  = "sync"

	DefaultMethod      = "GET"
	DefaultConcurrency = 10
	DefaultDuration    = "30s"
)

var durationPattern = regexp.MustCompile(`^(\d+)([smh])?$`)

var validMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true, "TRACE": true,
}

// Headers preserves the declaration order of a YAML header mapping
type Headers []types.Header

func (h *Headers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("headers must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		*h = append(*h, types.Header{
			Name:  node.Content[i].Value,
			Value: node.Content[i+1].Value,
		})
	}
	return nil
}

// MultipartPart is one declared form part: type "file" streams a local
// file, type "field" contributes an inline templated value.
type MultipartPart struct {
	Type  string `yaml:"type"`
	Name  string `yaml:"name"`
	Path  string `yaml:"path,omitempty"`
	Value string `yaml:"value,omitempty"`
}

// Step is a named scenario step. depends_on must name an earlier step.
type Step struct {
	Name      string            `yaml:"name"`
	Method    string            `yaml:"method"`
	URL       string            `yaml:"url"`
	Headers   Headers           `yaml:"headers,omitempty"`
	Body      string            `yaml:"body,omitempty"`
	Multipart []MultipartPart   `yaml:"multipart,omitempty"`
	Extract   map[string]string `yaml:"extract,omitempty"`
	DependsOn string            `yaml:"depends_on,omitempty"`
}

// OutputConfig names the report files
type OutputConfig struct {
	JSON string `yaml:"json"`
	HTML string `yaml:"html"`
}

// Config is the full workload description. Either Target (simple mode) or
// Scenarios (scenario mode) must be present; in scenario mode Target is the
// base URL path-relative step URLs are joined against.
type Config struct {
	Target      string          `yaml:"target,omitempty"`
	Method      string          `yaml:"method,omitempty"`
	Headers     Headers         `yaml:"headers,omitempty"`
	Body        string          `yaml:"body,omitempty"`
	Multipart   []MultipartPart `yaml:"multipart,omitempty"`
	Scenarios   []Step          `yaml:"scenarios,omitempty"`
	Concurrency int             `yaml:"concurrency,omitempty"`
	Duration    string          `yaml:"duration,omitempty"`
	Mode        string          `yaml:"mode,omitempty"`
	Output      OutputConfig    `yaml:"output"`

	duration time.Duration
	warnings []string
}

// Load reads and decodes a workload file. Validate must be called before
// the config is handed to the engine.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// IsSimpleMode reports whether the workload is a single request spec
func (c *Config) IsSimpleMode() bool {
	return len(c.Scenarios) == 0
}

// TestDuration returns the parsed run duration. Only valid after Validate.
func (c *Config) TestDuration() time.Duration {
	return c.duration
}

// Warnings returns the non-fatal findings collected during validation
func (c *Config) Warnings() []string {
	return c.warnings
}

// ParseDuration parses the boundary duration syntax <number><s|m|h>. A bare
// number is taken as seconds.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q, expected <number><s|m|h>", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	unit := time.Second
	switch m[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}
	return time.Duration(n) * unit, nil
}

// Validate applies defaults and checks the whole workload. dataRoot, when
// non-empty, sandboxes multipart file paths to that directory. Non-fatal
// findings accumulate as warnings.
func (c *Config) Validate(dataRoot string) error {
	c.warnings = c.warnings[:0]

	if c.Mode == "" {
		c.Mode = ModeAsync
	}
	if c.Mode != ModeAsync && c.Mode != ModeSync {
		return fmt.Errorf("unknown mode %q, must be %q or %q", c.Mode, ModeAsync, ModeSync)
	}

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}

	if c.Duration == "" {
		c.Duration = DefaultDuration
	}
	d, err := ParseDuration(c.Duration)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be greater than zero")
	}
	c.duration = d

	if c.IsSimpleMode() {
		return c.validateSimple(dataRoot)
	}
	return c.validateScenarios(dataRoot)
}

func (c *Config) validateSimple(dataRoot string) error {
	if c.Target == "" {
		return fmt.Errorf("either 'target' or 'scenarios' must be specified")
	}
	if c.Method == "" {
		c.Method = DefaultMethod
	}
	c.Method = strings.ToUpper(c.Method)
	if !validMethods[c.Method] {
		return fmt.Errorf("invalid HTTP method %q", c.Method)
	}

	if len(c.Multipart) > 0 && c.Body != "" {
		c.warnings = append(c.warnings, "both 'body' and 'multipart' are set; multipart wins and body is ignored")
	}
	return validateParts("request", c.Multipart, dataRoot, &c.warnings)
}

func (c *Config) validateScenarios(dataRoot string) error {
	seen := make(map[string]int, len(c.Scenarios))
	produced := make(map[string]bool)

	for i := range c.Scenarios {
		step := &c.Scenarios[i]
		if step.Name == "" {
			return fmt.Errorf("scenario step %d has no name", i+1)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("duplicate scenario step name %q", step.Name)
		}

		if step.Method == "" {
			step.Method = DefaultMethod
		}
		step.Method = strings.ToUpper(step.Method)
		if !validMethods[step.Method] {
			return fmt.Errorf("step %q: invalid HTTP method %q", step.Name, step.Method)
		}
		if step.URL == "" {
			return fmt.Errorf("step %q: url is required", step.Name)
		}

		// Only already-seen names are legal, which rejects self references,
		// forward references, and therefore cycles.
		if step.DependsOn != "" {
			if _, ok := seen[step.DependsOn]; !ok {
				return fmt.Errorf("step %q: depends_on references unknown or later step %q", step.Name, step.DependsOn)
			}
		}
		seen[step.Name] = i

		if len(step.Multipart) > 0 && step.Body != "" {
			c.warnings = append(c.warnings,
				fmt.Sprintf("step %q: both 'body' and 'multipart' are set; multipart wins and body is ignored", step.Name))
		}
		if err := validateParts(step.Name, step.Multipart, dataRoot, &c.warnings); err != nil {
			return err
		}

		c.checkTemplates(step, produced)
		for name := range step.Extract {
			produced[name] = true
		}
	}

	return nil
}

// checkTemplates warns about placeholders no prior step's extract produces.
// Variables can also arrive at runtime via --var/--env-file, so this can
// only ever be a warning.
func (c *Config) checkTemplates(step *Step, produced map[string]bool) {
	note := func(where string, input string) {
		for _, name := range template.Placeholders(input) {
			if !produced[name] {
				c.warnings = append(c.warnings,
					fmt.Sprintf("step %q: variable {{%s}} in %s is not produced by any prior step's extract", step.Name, name, where))
			}
		}
	}
	note("url", step.URL)
	for _, h := range step.Headers {
		note("header "+h.Name, h.Value)
	}
	note("body", step.Body)
	for _, p := range step.Multipart {
		if p.Type == "field" {
			note("multipart field "+p.Name, p.Value)
		}
	}
}

func validateParts(owner string, parts []MultipartPart, dataRoot string, warnings *[]string) error {
	for _, p := range parts {
		switch p.Type {
		case "file":
			if p.Path == "" {
				return fmt.Errorf("%s: multipart file part %q requires 'path'", owner, p.Name)
			}
			if dataRoot != "" {
				inside, err := pathInside(dataRoot, p.Path)
				if err != nil {
					return fmt.Errorf("%s: multipart file part %q: %w", owner, p.Name, err)
				}
				if !inside {
					return fmt.Errorf("%s: multipart file path %q is outside the data root %q", owner, p.Path, dataRoot)
				}
			}
		case "field":
			if p.Value == "" {
				*warnings = append(*warnings, fmt.Sprintf("%s: multipart field part %q has an empty value", owner, p.Name))
			}
		default:
			return fmt.Errorf("%s: unknown multipart part type %q", owner, p.Type)
		}
	}
	return nil
}

func pathInside(root, path string) (bool, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// JoinURL resolves a step URL against the base target. Absolute URLs are
// used as-is; path-relative ones are joined.
func JoinURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if base == "" {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return strings.TrimRight(base, "/") + ref
}
