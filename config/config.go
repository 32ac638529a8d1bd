package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ModuleReference captures metadata about the build-definition source that
// declared an entry. It is attached to every loaded declaration so later
// stages can attribute diagnostics to a file.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Package     string `json:"package,omitempty"`
}

// ModuleInclude describes a referenced build-definition module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// ResourceConfig declares the resource requests of a function target.
type ResourceConfig struct {
	CPU       string `yaml:"cpu,omitempty"`
	MemoryMiB int    `yaml:"memory_mib,omitempty"`
}

// FunctionConfig is the raw, undecoded declaration of one deployable function
// target. Field values are validated when the target is materialized, not
// here; the loader only establishes shape, naming and source attribution.
type FunctionConfig struct {
	Name              string          `yaml:"name"`
	Handler           string          `yaml:"handler"`
	Runtime           string          `yaml:"runtime,omitempty"`
	CompletePlatforms []string        `yaml:"complete_platforms,omitempty"`
	Type              string          `yaml:"type"`
	Resources         *ResourceConfig `yaml:"resources,omitempty"`
	When              string          `yaml:"when,omitempty"`
	Dir               string          `yaml:"-"`
	Source            ModuleReference `yaml:"-"`
}

// Config is the root structure of a loaded build definition.
type Config struct {
	Name        string                 `yaml:"name,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	Logging     LoggingConfig          `yaml:"logging"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
	Modules     []ModuleInclude        `yaml:"modules"`
	Environment map[string]interface{} `yaml:"environment,omitempty"`
	Functions   []FunctionConfig       `yaml:"functions"`
	Source      ModuleReference        `yaml:"-"`
}

type document struct {
	Package string `yaml:"package"`
	Config  Config `yaml:",inline"`
}

type moduleResult struct {
	cfg         *Config
	packageName string
	packagePath []string
}

// Load reads and decodes a build definition from a file or directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("build definition path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve build definition path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat build definition path: %w", err)
	}

	rootDir := abs
	if !info.IsDir() {
		rootDir = filepath.Dir(abs)
	}

	visited := make(map[string]struct{})

	var result *moduleResult
	if info.IsDir() {
		result, err = loadDir(abs, rootDir, visited, nil)
	} else {
		result, err = loadFile(abs, rootDir, visited, nil)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &Config{}, nil
	}
	return result.cfg, nil
}

func loadFile(path, rootDir string, visited map[string]struct{}, pkgPath []string) (*moduleResult, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("build definition include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build definition %s: %w", path, err)
	}

	if err := validateDocument(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode build definition %s: %w", path, err)
	}

	pkgName := strings.TrimSpace(doc.Package)
	if pkgName == "" {
		return nil, fmt.Errorf("%s: package name is required", path)
	}
	if err := ensureIdentifier(pkgName, "package"); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	fullPath := append([]string{}, pkgPath...)
	if len(fullPath) == 0 {
		fullPath = append(fullPath, pkgName)
	} else if expected := fullPath[len(fullPath)-1]; expected != pkgName {
		return nil, fmt.Errorf("%s: package mismatch: expected %q, got %q", path, expected, pkgName)
	}
	packagePath := strings.Join(fullPath, ".")

	cfg := doc.Config
	dir, err := relativeDir(rootDir, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.Source = ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description, Package: packagePath}
	for i := range cfg.Functions {
		fc := &cfg.Functions[i]
		if err := ensureIdentifier(fc.Name, "function target"); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		fc.Dir = dir
		fc.Source = ModuleReference{File: path, Package: packagePath}
	}

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}

		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		childPath, err := childPackagePath(baseDir, modulePath, fullPath, info.IsDir())
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		var result *moduleResult
		if info.IsDir() {
			result, err = loadDir(modulePath, rootDir, visited, childPath)
		} else {
			result, err = loadFile(modulePath, rootDir, visited, childPath)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		if result == nil || result.cfg == nil {
			continue
		}
		if len(childPath) > 0 && !packagePathIsDescendant(result.packagePath, childPath) {
			return nil, fmt.Errorf("module %s declares package %s outside parent package %s",
				module.Path, strings.Join(result.packagePath, "."), packagePath)
		}
		for i := range result.cfg.Functions {
			src := &result.cfg.Functions[i].Source
			if module.Name != "" {
				src.Name = module.Name
			}
			if module.Description != "" {
				src.Description = module.Description
			}
		}
		mergeConfig(&cfg, result.cfg)
	}

	return &moduleResult{cfg: &cfg, packageName: pkgName, packagePath: fullPath}, nil
}

func loadDir(path, rootDir string, visited map[string]struct{}, pkgPath []string) (*moduleResult, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("build definition include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read build definition dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.Source = ModuleReference{File: path, Package: strings.Join(pkgPath, ".")}

	var dirPackage []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		subPath := filepath.Join(path, entry.Name())
		res, err := loadFile(subPath, rootDir, visited, pkgPath)
		if err != nil {
			return nil, err
		}
		if res == nil || res.cfg == nil {
			continue
		}
		if len(dirPackage) == 0 {
			dirPackage = append([]string(nil), res.packagePath...)
		} else if !equalPackagePath(dirPackage, res.packagePath) {
			return nil, fmt.Errorf("%s: inconsistent package declarations (%s vs %s)",
				path, strings.Join(dirPackage, "."), strings.Join(res.packagePath, "."))
		}
		mergeConfig(result, res.cfg)
	}

	return &moduleResult{cfg: result, packagePath: dirPackage, packageName: lastSegment(dirPackage)}, nil
}

func relativeDir(rootDir, path string) (string, error) {
	rel, err := filepath.Rel(rootDir, filepath.Dir(path))
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." {
		return "", nil
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("build definition %s escapes load root", path)
	}
	return rel, nil
}

func ensureIdentifier(value, kind string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s identifier must not be empty", kind)
	}
	for idx, r := range trimmed {
		if idx == 0 && unicode.IsDigit(r) {
			return fmt.Errorf("%s %q must not start with a digit", kind, trimmed)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			return fmt.Errorf("%s %q contains invalid character %q", kind, trimmed, r)
		}
	}
	return nil
}

func childPackagePath(baseDir, modulePath string, parent []string, isDir bool) ([]string, error) {
	rel, err := filepath.Rel(baseDir, modulePath)
	if err != nil {
		return nil, err
	}
	rel = filepath.Clean(rel)
	if strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("module path %s escapes base directory", modulePath)
	}
	segments := make([]string, 0)
	if rel != "." {
		for _, part := range strings.Split(rel, string(os.PathSeparator)) {
			if part == "" || part == "." {
				continue
			}
			segments = append(segments, part)
		}
	}
	if !isDir && len(segments) > 0 {
		segments = segments[:len(segments)-1]
	}
	child := append([]string{}, parent...)
	child = append(child, segments...)
	return child, nil
}

func packagePathIsDescendant(child, parent []string) bool {
	if len(child) < len(parent) {
		return false
	}
	for i := range parent {
		if child[i] != parent[i] {
			return false
		}
	}
	return true
}

func equalPackagePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lastSegment(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" {
		dst.Telemetry = src.Telemetry
	}
	if len(src.Environment) > 0 {
		if dst.Environment == nil {
			dst.Environment = make(map[string]interface{}, len(src.Environment))
		}
		for key, value := range src.Environment {
			dst.Environment[key] = value
		}
	}

	dst.Functions = append(dst.Functions, src.Functions...)
}
