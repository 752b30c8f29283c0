// Package fileread implements the bounded-concurrency file reader and the
// best-effort language/structure extractor.
package fileread

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/airouter/airouter/internal/pathsafety"
	"github.com/airouter/airouter/internal/types"
	"github.com/sirupsen/logrus"
)

// Options controls one analyze() call.
type Options struct {
	MaxFileBytes          int64
	MaxFiles              int
	AllowedExtensions     map[string]bool
	Concurrency           int
	IncludeProjectContext bool
	PerFileTimeout        time.Duration
}

// DefaultOptions returns the default file-analysis limits.
func DefaultOptions() Options {
	return Options{
		MaxFileBytes:          10 * 1024 * 1024,
		MaxFiles:              50,
		AllowedExtensions:     defaultAllowedExtensions(),
		Concurrency:           5,
		IncludeProjectContext: false,
		PerFileTimeout:        5 * time.Second,
	}
}

// clamp applies the hard caps regardless of caller-requested values.
func (o Options) clamp() Options {
	if o.MaxFiles <= 0 || o.MaxFiles > 50 {
		o.MaxFiles = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.Concurrency > 10 {
		o.Concurrency = 10
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = 10 * 1024 * 1024
	}
	if o.AllowedExtensions == nil {
		o.AllowedExtensions = defaultAllowedExtensions()
	}
	if o.PerFileTimeout <= 0 {
		o.PerFileTimeout = 5 * time.Second
	}
	return o
}

func defaultAllowedExtensions() map[string]bool {
	exts := []string{
		".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".c", ".h",
		".cpp", ".hpp", ".cc", ".rs", ".rb", ".php", ".cs", ".swift",
		".kt", ".scala", ".sh", ".md", ".txt", ".json", ".yaml", ".yml",
		".toml", ".sql", ".html", ".css",
	}
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return m
}

// FileError records a per-file failure without aborting the batch.
type FileError struct {
	Path string
	Err  error
}

// ProjectContext summarizes a multi-file analysis.
type ProjectContext struct {
	Languages     []string
	Directories   []string
	FileTypeCount map[string]int
	ImportRoots   []string
	Frameworks    []string
}

// Result is the output of Analyze.
type Result struct {
	Files   []types.FileUnit
	Errors  []FileError
	Project *ProjectContext
}

// Reader reads and analyzes files below a safe workspace root.
type Reader struct {
	Resolver *pathsafety.Resolver
	Logger   *logrus.Logger
}

// New builds a Reader.
func New(resolver *pathsafety.Resolver, logger *logrus.Logger) *Reader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reader{Resolver: resolver, Logger: logger}
}

// Analyze walks paths (files or directories), reads accepted files with
// bounded concurrency, and extracts language/structure metadata.
func (r *Reader) Analyze(ctx context.Context, paths []string, opts Options) Result {
	opts = opts.clamp()

	candidates, errs := r.discover(paths, opts)
	if len(candidates) > opts.MaxFiles {
		candidates = candidates[:opts.MaxFiles]
	}

	units, readErrs := r.readAll(ctx, candidates, opts)
	errs = append(errs, readErrs...)

	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })

	res := Result{Files: units, Errors: errs}
	if opts.IncludeProjectContext && len(units) >= 2 {
		pc := buildProjectContext(units)
		res.Project = &pc
	}
	return res
}

// discover resolves each input path, expanding directories (depth <= 10)
// into a flat, deterministic list of accepted file paths.
func (r *Reader) discover(paths []string, opts Options) ([]string, []FileError) {
	var out []string
	var errs []FileError

	for _, p := range paths {
		resolved, err := r.Resolver.Resolve(p)
		if err != nil {
			errs = append(errs, FileError{Path: p, Err: err})
			continue
		}

		info, statErr := os.Stat(resolved)
		if statErr != nil {
			errs = append(errs, FileError{Path: resolved, Err: statErr})
			continue
		}

		if !info.IsDir() {
			if acceptFile(resolved, info, opts) {
				out = append(out, resolved)
			}
			continue
		}

		found, walkErrs := walkDir(resolved, opts, len(out))
		out = append(out, found...)
		errs = append(errs, walkErrs...)
		if len(out) >= opts.MaxFiles {
			out = out[:opts.MaxFiles]
			break
		}
	}

	return out, errs
}

func acceptFile(path string, info os.FileInfo, opts Options) bool {
	if info.Size() > opts.MaxFileBytes {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return opts.AllowedExtensions[ext]
}

func walkDir(root string, opts Options, alreadyFound int) ([]string, []FileError) {
	var out []string
	var errs []FileError
	const maxDepth = 10

	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			errs = append(errs, FileError{Path: path, Err: err})
			return nil
		}
		if alreadyFound+len(out) >= opts.MaxFiles {
			return filepath.SkipAll
		}
		depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
		if info.IsDir() {
			if depth > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if acceptFile(path, info, opts) {
			out = append(out, path)
		}
		return nil
	})

	return out, errs
}

func (r *Reader) readAll(ctx context.Context, paths []string, opts Options) ([]types.FileUnit, []FileError) {
	type outcome struct {
		unit *types.FileUnit
		err  *FileError
	}

	results := make([]outcome, len(paths))
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup

	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fctx, cancel := context.WithTimeout(ctx, opts.PerFileTimeout)
			defer cancel()

			unit, err := readOne(fctx, p)
			if err != nil {
				results[i] = outcome{err: &FileError{Path: p, Err: err}}
				return
			}
			results[i] = outcome{unit: unit}
		}(i, p)
	}
	wg.Wait()

	var units []types.FileUnit
	var errs []FileError
	for _, o := range results {
		if o.err != nil {
			errs = append(errs, *o.err)
			continue
		}
		if o.unit != nil {
			units = append(units, *o.unit)
		}
	}
	return units, errs
}

func readOne(ctx context.Context, path string) (*types.FileUnit, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		content := string(res.data)
		lang := detectLanguage(path)
		lines := strings.Split(content, "\n")
		unit := &types.FileUnit{
			Path:             path,
			Size:             int64(len(res.data)),
			Language:         lang,
			LineCount:        len(lines),
			Imports:          extractImports(content, lang),
			Functions:        extractFunctions(content, lang),
			Classes:          extractClasses(content, lang),
			ComplexityBucket: complexityBucket(lines),
			Content:          content,
		}
		return unit, nil
	}
}

var extensionLanguage = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".java": "java", ".c": "c",
	".h": "c", ".cpp": "cpp", ".hpp": "cpp", ".cc": "cpp", ".rs": "rust",
	".rb": "ruby", ".php": "php", ".cs": "csharp", ".swift": "swift",
	".kt": "kotlin", ".scala": "scala", ".sh": "shell", ".md": "markdown",
	".txt": "text", ".json": "json", ".yaml": "yaml", ".yml": "yaml",
	".toml": "toml", ".sql": "sql", ".html": "html", ".css": "css",
}

func detectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extensionLanguage[ext]; ok {
		return lang
	}
	return "unknown"
}

// complexityBucket buckets the ratio of non-blank, non-comment lines.
func complexityBucket(lines []string) string {
	if len(lines) == 0 {
		return "low"
	}
	code := 0
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		if strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "*") || strings.HasPrefix(t, "/*") {
			continue
		}
		code++
	}
	ratio := float64(code) / float64(len(lines))
	switch {
	case ratio >= 0.6 && len(lines) > 200:
		return "high"
	case ratio >= 0.3 || len(lines) > 80:
		return "medium"
	default:
		return "low"
	}
}

const maxExtractMatches = 25

var importPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^\s*(?:import\s+(?:[\w.]+\s+)?)?"([\w./\-]+)"\s*$`),
	"python":     regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([\w.]+)`),
	"javascript": regexp.MustCompile(`(?m)^\s*import .*?from\s+['"]([^'"]+)['"]`),
	"typescript": regexp.MustCompile(`(?m)^\s*import .*?from\s+['"]([^'"]+)['"]`),
	"java":       regexp.MustCompile(`(?m)^\s*import\s+([\w.]+);`),
	"rust":       regexp.MustCompile(`(?m)^\s*use\s+([\w:]+)`),
}

var functionPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?(\w+)\s*\(`),
	"python":     regexp.MustCompile(`(?m)^\s*def\s+(\w+)\s*\(`),
	"javascript": regexp.MustCompile(`(?m)\bfunction\s+(\w+)\s*\(`),
	"typescript": regexp.MustCompile(`(?m)\bfunction\s+(\w+)\s*\(`),
	"java":       regexp.MustCompile(`(?m)\b(?:public|private|protected)\s+[\w<>\[\]]+\s+(\w+)\s*\(`),
	"rust":       regexp.MustCompile(`(?m)^\s*(?:pub\s+)?fn\s+(\w+)\s*\(`),
}

var classPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^type\s+(\w+)\s+struct\b`),
	"python":     regexp.MustCompile(`(?m)^\s*class\s+(\w+)`),
	"javascript": regexp.MustCompile(`(?m)^\s*class\s+(\w+)`),
	"typescript": regexp.MustCompile(`(?m)^\s*(?:export\s+)?class\s+(\w+)`),
	"java":       regexp.MustCompile(`(?m)\bclass\s+(\w+)`),
	"rust":       regexp.MustCompile(`(?m)^\s*(?:pub\s+)?struct\s+(\w+)`),
}

func extractImports(content, lang string) []string { return extractBounded(content, importPatterns[lang]) }
func extractFunctions(content, lang string) []string {
	return extractBounded(content, functionPatterns[lang])
}
func extractClasses(content, lang string) []string { return extractBounded(content, classPatterns[lang]) }

func extractBounded(content string, re *regexp.Regexp) []string {
	if re == nil {
		return nil
	}
	matches := re.FindAllStringSubmatch(content, -1)
	var out []string
	seen := map[string]bool{}
	for _, m := range matches {
		if len(out) >= maxExtractMatches {
			break
		}
		if len(m) < 2 {
			continue
		}
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

var frameworkMarkers = map[string]string{
	"react":     "react",
	"django":    "django",
	"flask":     "flask",
	"express":   "express",
	"gin":       "gin-gonic/gin",
	"spring":    "springframework",
	"gorilla":   "gorilla/mux",
	"fastapi":   "fastapi",
	"net/http":  "net/http",
}

func buildProjectContext(units []types.FileUnit) ProjectContext {
	languages := map[string]bool{}
	directories := map[string]bool{}
	fileTypeCount := map[string]int{}
	importRoots := map[string]bool{}
	frameworks := map[string]bool{}

	for _, u := range units {
		languages[u.Language] = true
		directories[filepath.Dir(u.Path)] = true
		fileTypeCount[filepath.Ext(u.Path)]++
		for _, imp := range u.Imports {
			root := strings.SplitN(imp, "/", 2)[0]
			importRoots[root] = true
			for marker, tag := range frameworkMarkers {
				if strings.Contains(imp, marker) {
					frameworks[tag] = true
				}
			}
		}
	}

	pc := ProjectContext{
		Languages:     sortedKeys(languages),
		Directories:   sortedKeys(directories),
		FileTypeCount: fileTypeCount,
		ImportRoots:   sortedKeys(importRoots),
		Frameworks:    sortedKeys(frameworks),
	}
	return pc
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
