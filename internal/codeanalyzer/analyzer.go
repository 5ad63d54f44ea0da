// Package codeanalyzer extracts redacted code context from a cloned
// repository for the stack frames in a parsed traceback.
package codeanalyzer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pebblecode/tracewatch/internal/clonecache"
	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/model"
	"github.com/pebblecode/tracewatch/internal/security"
)

// Redactor is the subset of security.Redactor the analyzer needs.
type Redactor interface {
	Redact(text string) (string, error)
}

// Config controls how much context is pulled per frame and per repo.
type Config struct {
	MaxFiles         int      // cap on distinct files analyzed per traceback
	ContextLines     int      // lines of context before/after the highlighted line
	IncludeFiles     []string // extra files to always surface, relative to repo root
	MaxIncludeLines  int      // cap on lines read from an include_files entry
}

// DefaultConfig matches the distilled spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxFiles:        5,
		ContextLines:    15,
		IncludeFiles:    []string{"README.md"},
		MaxIncludeLines: 200,
	}
}

// minContextLines is the floor Analyze will not trim context_lines below
// while fitting a downstream token budget: below this, a window stops being
// useful context.
const minContextLines = 3

// charsPerToken is the rough token-estimate ratio used to decide whether
// combined CodeContext content exceeds a provider's token budget. No
// tokenizer library is wired into this module, so a conservative
// chars-based estimate stands in for an exact count.
const charsPerToken = 4

// Analyzer extracts CodeContext for a traceback's project frames, plus any
// configured always-include files, from a repository acquired through a
// clonecache.Cache.
type Analyzer struct {
	cache    *clonecache.Cache
	config   Config
	redactor Redactor
}

// New builds an Analyzer.
func New(cache *clonecache.Cache, config Config, redactor Redactor) *Analyzer {
	if config.MaxFiles <= 0 {
		config.MaxFiles = 5
	}
	if config.ContextLines <= 0 {
		config.ContextLines = 15
	}
	return &Analyzer{cache: cache, config: config, redactor: redactor}
}

// Analyze clones (or reuses a cached clone of) repo and extracts code
// context for traceback's project frames, capped at config.MaxFiles
// distinct files, plus any configured include_files found at the repo
// root. maxContextTokens is the downstream LLM provider's context budget
// (provider.LLMProvider.MaxContextTokens); when the combined content would
// exceed it, include_files entries are evicted lowest-priority first, then
// each frame's context_lines window is trimmed symmetrically down to
// minContextLines. A non-positive maxContextTokens disables trimming.
func (a *Analyzer) Analyze(ctx context.Context, repo string, tb model.ParsedTraceback, maxContextTokens int) ([]model.CodeContext, error) {
	projectFrames := tb.ProjectFrames()
	if len(projectFrames) == 0 {
		return nil, nil
	}
	if len(projectFrames) > a.config.MaxFiles {
		projectFrames = projectFrames[:a.config.MaxFiles]
	}

	handle, err := a.cache.Acquire(ctx, repo, "")
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	var frameContexts []model.CodeContext
	seen := make(map[string]bool)

	for _, frame := range projectFrames {
		normalized := normalizeFramePath(frame.FilePath)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true

		context, err := a.GetSurroundingCode(handle.Path, normalized, frame.LineNumber, a.config.ContextLines)
		if err != nil {
			continue // path traversal / binary / unreadable: drop the frame, keep going
		}
		if context != nil {
			frameContexts = append(frameContexts, *context)
		}
	}

	var includeContexts []model.CodeContext
	for _, includeFile := range a.config.IncludeFiles {
		if seen[includeFile] {
			continue
		}
		context, err := a.readIncludeFile(handle.Path, includeFile)
		if err == nil && context != nil {
			includeContexts = append(includeContexts, *context)
		}
	}

	if maxContextTokens <= 0 {
		return append(frameContexts, includeContexts...), nil
	}
	return a.fitBudget(frameContexts, includeContexts, maxContextTokens), nil
}

// fitBudget evicts includeContexts from the end (lowest priority: entries
// later in config.IncludeFiles are considered less essential than earlier
// ones) until the combined content fits budget tokens, then symmetrically
// shrinks each frame context's window around its highlight line down to
// minContextLines if eviction alone wasn't enough.
func (a *Analyzer) fitBudget(frameContexts, includeContexts []model.CodeContext, budget int) []model.CodeContext {
	for estimateTotalTokens(frameContexts, includeContexts) > budget && len(includeContexts) > 0 {
		includeContexts = includeContexts[:len(includeContexts)-1]
	}

	radius := a.config.ContextLines
	for estimateTotalTokens(frameContexts, includeContexts) > budget && radius > minContextLines {
		radius--
		for i := range frameContexts {
			frameContexts[i] = trimCodeContext(frameContexts[i], radius)
		}
	}

	return append(append([]model.CodeContext{}, frameContexts...), includeContexts...)
}

func estimateTotalTokens(sets ...[]model.CodeContext) int {
	total := 0
	for _, set := range sets {
		for _, c := range set {
			total += estimateTokens(c.Content)
		}
	}
	return total
}

func estimateTokens(s string) int {
	return len(s)/charsPerToken + 1
}

// trimCodeContext shrinks cc's window to newRadius lines on either side of
// its highlight line, re-slicing the content it already holds rather than
// re-reading the file. Contexts with no highlight line (e.g. include_files
// entries) are returned unchanged, since there's no center to trim around.
func trimCodeContext(cc model.CodeContext, newRadius int) model.CodeContext {
	if cc.HighlightLine == nil {
		return cc
	}
	highlight := *cc.HighlightLine

	newStart := highlight - newRadius
	if newStart < cc.StartLine {
		newStart = cc.StartLine
	}
	newEnd := highlight + newRadius
	if newEnd > cc.EndLine {
		newEnd = cc.EndLine
	}
	if newStart == cc.StartLine && newEnd == cc.EndLine {
		return cc
	}

	lines := strings.Split(cc.Content, "\n")
	startIdx := newStart - cc.StartLine
	endIdx := newEnd - cc.StartLine
	if startIdx < 0 {
		startIdx = 0
	}
	if endIdx >= len(lines) {
		endIdx = len(lines) - 1
	}
	if startIdx > endIdx {
		return cc
	}

	cc.StartLine = newStart
	cc.EndLine = newEnd
	cc.Content = strings.Join(lines[startIdx:endIdx+1], "\n")
	return cc
}

// GetSurroundingCode reads filePath relative to repoPath and returns the
// lines within [lineNumber-contextLines, lineNumber+contextLines], clipped
// to the file and redacted. Returns (nil, nil) if the file doesn't exist.
func (a *Analyzer) GetSurroundingCode(repoPath, filePath string, lineNumber, contextLines int) (*model.CodeContext, error) {
	fullPath, err := resolveFilePath(repoPath, filePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}
	if looksBinary(raw) {
		return nil, faults.New(faults.KindPathTraversal, "skipped binary file", nil)
	}

	lines := strings.Split(string(raw), "\n")
	if len(lines) == 0 {
		return nil, nil
	}

	total := len(lines)
	start := lineNumber - contextLines
	if start < 1 {
		start = 1
	}
	end := lineNumber + contextLines
	if end > total {
		end = total
	}

	extracted := strings.Join(lines[start-1:end], "\n")
	redacted, err := a.redactor.Redact(extracted)
	if err != nil {
		return nil, err
	}

	var highlight *int
	if start <= lineNumber && lineNumber <= end {
		h := lineNumber
		highlight = &h
	}

	return &model.CodeContext{
		FilePath:      security.RedactFilePaths(filePath),
		StartLine:     start,
		EndLine:       end,
		Content:       redacted,
		HighlightLine: highlight,
	}, nil
}

func (a *Analyzer) readIncludeFile(repoPath, fileName string) (*model.CodeContext, error) {
	fullPath, err := resolveFilePath(repoPath, fileName)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return nil, nil
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}
	if looksBinary(raw) {
		return nil, nil
	}

	lines := strings.Split(string(raw), "\n")
	maxLines := a.config.MaxIncludeLines
	truncated := false
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}
	content := strings.Join(lines, "\n")
	if truncated {
		content += "\n... (truncated)"
	}

	redacted, err := a.redactor.Redact(content)
	if err != nil {
		return nil, err
	}

	return &model.CodeContext{
		FilePath:  security.RedactFilePaths(fileName),
		StartLine: 1,
		EndLine:   len(lines),
		Content:   redacted,
	}, nil
}

// resolveFilePath joins filePath onto repoPath and rejects any result that
// escapes repoPath, via a canonicalized-prefix check (handles "..",
// absolute paths, and symlink exits alike).
func resolveFilePath(repoPath, filePath string) (string, error) {
	cleaned := filepath.Clean(filePath)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(cleaned) {
		return "", faults.New(faults.KindPathTraversal, "invalid file path", nil)
	}

	repoRoot, err := filepath.Abs(repoPath)
	if err != nil {
		return "", err
	}
	repoRoot, err = filepath.EvalSymlinks(repoRoot)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(repoRoot, cleaned)
	resolved := joined
	if _, statErr := os.Lstat(joined); statErr == nil {
		if real, evalErr := filepath.EvalSymlinks(joined); evalErr == nil {
			resolved = real
		}
	}

	rel, err := filepath.Rel(repoRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", faults.New(faults.KindPathTraversal, "path escapes repository root", nil)
	}

	return joined, nil
}

var projectDirMarkers = []string{"src/", "lib/", "app/", "pkg/"}
var skipPrefixes = map[string]bool{"home": true, "Users": true, "usr": true, "var": true, "opt": true, "tmp": true}

// normalizeFramePath strips absolute-path noise from a traceback frame's
// file path so it can be looked up relative to a repository root.
func normalizeFramePath(framePath string) string {
	for _, marker := range projectDirMarkers {
		if idx := strings.Index(framePath, marker); idx >= 0 {
			return framePath[idx:]
		}
	}

	parts := strings.Split(strings.ReplaceAll(framePath, `\`, "/"), "/")
	var cleaned []string
	skipping := true
	for _, part := range parts {
		if skipping && (part == "" || skipPrefixes[part]) {
			continue
		}
		skipping = false
		cleaned = append(cleaned, part)
	}
	if len(cleaned) == 0 {
		return framePath
	}
	return strings.Join(cleaned, "/")
}

// looksBinary reports whether content appears to be a binary file: a null
// byte in the first 8 KiB, or invalid UTF-8 past a small tolerance.
func looksBinary(content []byte) bool {
	probe := content
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	return !utf8.Valid(probe)
}
