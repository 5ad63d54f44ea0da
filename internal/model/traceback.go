// Package model holds the immutable value types passed between the
// traceback parser, the issue matcher, the code analyzer, and the
// pipeline. Every type here is a plain value: constructed once, never
// mutated, safe to share across goroutines by copy.
package model

import "strings"

// StackFrame is a single "File ..., line N, in func" record.
type StackFrame struct {
	FilePath     string
	LineNumber   int
	FunctionName string
	CodeLine     string // empty if not captured
}

var stdlibIndicators = []string{
	"/lib/python",
	"/lib64/python",
	`\lib\python`,
	"<frozen",
	"<built-in",
}

// IsStdlib reports whether the frame originates from the Python standard library.
func (f StackFrame) IsStdlib() bool {
	for _, ind := range stdlibIndicators {
		if strings.Contains(f.FilePath, ind) {
			return true
		}
	}
	return false
}

// IsSitePackages reports whether the frame originates from a third-party package.
func (f StackFrame) IsSitePackages() bool {
	return strings.Contains(f.FilePath, "site-packages") || strings.Contains(f.FilePath, "dist-packages")
}

var absolutePrefixes = []string{"/usr/local/", "/usr/", "/home/", "/Users/", `C:\`, "C:/"}

// NormalizedPath strips common absolute path prefixes, keeping the last
// few path components so file basenames remain comparable across hosts.
func (f StackFrame) NormalizedPath() string {
	path := f.FilePath
	for _, prefix := range absolutePrefixes {
		if strings.HasPrefix(path, prefix) {
			sep := "/"
			if !strings.Contains(path, "/") {
				sep = `\`
			}
			parts := strings.Split(path, sep)
			if len(parts) > 2 {
				path = strings.Join(parts[len(parts)-3:], "/")
			}
			break
		}
	}
	return path
}

// ParsedTraceback is a fully parsed Python traceback, possibly chained.
type ParsedTraceback struct {
	ExceptionType    string
	ExceptionMessage string
	Frames           []StackFrame // outermost -> innermost, non-empty
	RawText          string
	IsChained        bool
	Cause            *ParsedTraceback
}

// InnermostFrame is the frame where the exception was raised.
func (t ParsedTraceback) InnermostFrame() StackFrame {
	return t.Frames[len(t.Frames)-1]
}

// ProjectFrames returns the subsequence of frames that are neither
// stdlib nor third-party-package frames.
func (t ParsedTraceback) ProjectFrames() []StackFrame {
	out := make([]StackFrame, 0, len(t.Frames))
	for _, f := range t.Frames {
		if !f.IsStdlib() && !f.IsSitePackages() {
			out = append(out, f)
		}
	}
	return out
}

// Signature is the dedup key: "<ExceptionType>: <message>".
func (t ParsedTraceback) Signature() string {
	return t.ExceptionType + ": " + t.ExceptionMessage
}
