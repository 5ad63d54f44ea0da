// Package traceback detects and parses Python tracebacks out of arbitrary
// chat text: standard tracebacks, chained exceptions, SyntaxErrors, and
// tracebacks embedded in ``` code fences.
package traceback

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pebblecode/tracewatch/internal/faults"
	"github.com/pebblecode/tracewatch/internal/model"
)

var (
	tracebackHeader = regexp.MustCompile(`Traceback \(most recent call last\):`)
	framePattern    = regexp.MustCompile(`(?m)^\s*File "([^"]+)", line (\d+)(?:, in (.+))?$`)
	exceptionPattern = regexp.MustCompile(`(?m)^([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*):\s*(.*)$`)
	exceptionNoMsgPattern = regexp.MustCompile(`(?m)^([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)$`)
	chainedPattern = regexp.MustCompile(`(?m)^(?:The above exception was the direct cause of the following exception:|During handling of the above exception, another exception occurred:)$`)
	syntaxErrorPattern = regexp.MustCompile(`(?m)^\s*File "([^"]+)", line (\d+).*\n(?:.*\n)?\s*\^+\n(SyntaxError|IndentationError|TabError):\s*(.*)`)
	codeBlockPattern   = regexp.MustCompile("(?s)```(?:python|py)?\n(.*?)```")
)

// Parser detects and parses Python tracebacks from free-form text.
type Parser struct{}

// NewParser returns a ready-to-use Parser. It holds no state.
func NewParser() *Parser {
	return &Parser{}
}

// ContainsTraceback reports whether text has a standard traceback header or
// a SyntaxError block, either inline or inside a ``` code fence.
func (p *Parser) ContainsTraceback(text string) bool {
	if text == "" {
		return false
	}
	if tracebackHeader.MatchString(text) {
		return true
	}
	if syntaxErrorPattern.MatchString(text) {
		return true
	}
	for _, block := range codeBlockPattern.FindAllStringSubmatch(text, -1) {
		content := block[1]
		if tracebackHeader.MatchString(content) || syntaxErrorPattern.MatchString(content) {
			return true
		}
	}
	return false
}

// Parse extracts a single ParsedTraceback from text. Chained exceptions
// (raise ... from ...) are collapsed into the outermost traceback, with
// Cause pointing at the earlier one. Returns a *faults.Fault with
// faults.KindNoTraceback if no traceback can be found.
func (p *Parser) Parse(text string) (model.ParsedTraceback, error) {
	if text == "" {
		return model.ParsedTraceback{}, faults.New(faults.KindNoTraceback, "no text provided", nil)
	}

	extracted := p.extractFromCodeBlocks(text)
	if extracted == "" {
		extracted = text
	}

	if m := syntaxErrorPattern.FindStringSubmatch(extracted); m != nil {
		return p.parseSyntaxError(m, text), nil
	}

	loc := tracebackHeader.FindStringIndex(extracted)
	if loc == nil {
		return model.ParsedTraceback{}, faults.New(faults.KindNoTraceback, "no traceback header found", nil)
	}
	tracebackText := extracted[loc[0]:]

	if chainedPattern.MatchString(tracebackText) {
		return p.parseChained(tracebackText, text)
	}
	return p.parseSingle(tracebackText, text)
}

// ExtractAll pulls every traceback out of text, in the order the chain
// markers present them: outermost (original cause) first.
func (p *Parser) ExtractAll(text string) []model.ParsedTraceback {
	var tracebacks []model.ParsedTraceback

	extracted := p.extractFromCodeBlocks(text)
	if extracted == "" {
		extracted = text
	}

	for _, segment := range chainedPattern.Split(extracted, -1) {
		if !tracebackHeader.MatchString(segment) {
			continue
		}
		tb, err := p.parseSingle(segment, segment)
		if err != nil {
			continue
		}
		tracebacks = append(tracebacks, tb)
	}
	return tracebacks
}

func (p *Parser) extractFromCodeBlocks(text string) string {
	for _, block := range codeBlockPattern.FindAllStringSubmatch(text, -1) {
		content := block[1]
		if tracebackHeader.MatchString(content) || syntaxErrorPattern.MatchString(content) {
			return content
		}
	}
	return ""
}

func (p *Parser) parseSingle(tracebackText, rawText string) (model.ParsedTraceback, error) {
	frames := p.extractFrames(tracebackText)
	excType, excMessage := p.extractException(tracebackText)
	if excType == "" {
		if len(frames) == 0 {
			return model.ParsedTraceback{}, faults.New(faults.KindNoTraceback, "could not extract exception type", nil)
		}
		// Detection succeeded (we found frames) but the exception line
		// itself was cut off, e.g. a chat client truncating a long paste
		// mid-traceback. Best-effort success beats a hard failure here.
		excType = "<truncated>"
		excMessage = ""
	}

	return model.ParsedTraceback{
		ExceptionType:    excType,
		ExceptionMessage: excMessage,
		Frames:           frames,
		RawText:          rawText,
		IsChained:        false,
		Cause:            nil,
	}, nil
}

// parseChained mirrors the reference parser: split on the chain markers,
// then fold cause-to-effect so the outermost exception's Cause points at
// the one before it.
func (p *Parser) parseChained(tracebackText, rawText string) (model.ParsedTraceback, error) {
	var segments []string
	for _, s := range chainedPattern.Split(tracebackText, -1) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}

	if len(segments) < 2 {
		return p.parseSingle(tracebackText, rawText)
	}

	var cause *model.ParsedTraceback
	for _, segment := range segments {
		if !tracebackHeader.MatchString(segment) {
			continue
		}
		frames := p.extractFrames(segment)
		excType, excMessage := p.extractException(segment)
		if excType == "" {
			continue
		}

		tb := model.ParsedTraceback{
			ExceptionType:    excType,
			ExceptionMessage: excMessage,
			Frames:           frames,
			RawText:          segment,
			IsChained:        cause != nil,
			Cause:            cause,
		}
		cause = &tb
	}

	if cause == nil {
		return model.ParsedTraceback{}, faults.New(faults.KindNoTraceback, "could not parse any exceptions from chain", nil)
	}
	return *cause, nil
}

func (p *Parser) parseSyntaxError(match []string, rawText string) model.ParsedTraceback {
	filePath := match[1]
	lineNumber, _ := strconv.Atoi(match[2])
	excType := match[3]
	excMessage := match[4]

	frame := model.StackFrame{
		FilePath:     filePath,
		LineNumber:   lineNumber,
		FunctionName: "<module>",
	}

	return model.ParsedTraceback{
		ExceptionType:    excType,
		ExceptionMessage: excMessage,
		Frames:           []model.StackFrame{frame},
		RawText:          rawText,
		IsChained:        false,
		Cause:            nil,
	}
}

func (p *Parser) extractFrames(tracebackText string) []model.StackFrame {
	var frames []model.StackFrame
	lines := strings.Split(tracebackText, "\n")

	for i := 0; i < len(lines); i++ {
		m := framePattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		lineNumber, _ := strconv.Atoi(m[2])
		functionName := m[3]
		if functionName == "" {
			functionName = "<module>"
		}

		codeLine := ""
		if i+1 < len(lines) {
			next := lines[i+1]
			if strings.HasPrefix(next, "    ") && !strings.HasPrefix(strings.TrimSpace(next), "File") {
				codeLine = strings.TrimSpace(next)
				i++
			}
		}

		frames = append(frames, model.StackFrame{
			FilePath:     m[1],
			LineNumber:   lineNumber,
			FunctionName: functionName,
			CodeLine:     codeLine,
		})
	}
	return frames
}

// extractException walks the traceback text from the bottom up, looking
// for the first line that isn't a frame line: that's the exception.
func (p *Parser) extractException(tracebackText string) (excType, excMessage string) {
	lines := strings.Split(tracebackText, "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "File ") || strings.HasPrefix(line, "^") {
			continue
		}

		if m := exceptionPattern.FindStringSubmatch(line); m != nil {
			return m[1], m[2]
		}
		if m := exceptionNoMsgPattern.FindStringSubmatch(line); m != nil {
			return m[1], ""
		}
	}
	return "", ""
}
