package traceback_test

import (
	"strings"

	"github.com/pebblecode/tracewatch/internal/traceback"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const simpleTraceback = `Traceback (most recent call last):
  File "app.py", line 10, in <module>
    main()
  File "app.py", line 6, in main
    return 1 / 0
ZeroDivisionError: division by zero`

const chainedTraceback = `Traceback (most recent call last):
  File "app.py", line 4, in <module>
    parse(raw)
  File "app.py", line 2, in parse
    return int(raw)
ValueError: invalid literal for int() with base 10: 'x'

The above exception was the direct cause of the following exception:

Traceback (most recent call last):
  File "app.py", line 9, in <module>
    handle()
  File "app.py", line 6, in handle
    raise RuntimeError("could not handle request") from exc
RuntimeError: could not handle request`

const syntaxErrorTraceback = `  File "broken.py", line 3
    def foo(:
           ^
SyntaxError: invalid syntax`

var _ = Describe("Parser", func() {
	var p *traceback.Parser

	BeforeEach(func() {
		p = traceback.NewParser()
	})

	Describe("ContainsTraceback", func() {
		It("returns false for empty text", func() {
			Expect(p.ContainsTraceback("")).To(BeFalse())
		})

		It("returns false for plain text", func() {
			Expect(p.ContainsTraceback("the build succeeded")).To(BeFalse())
		})

		It("detects a standard traceback", func() {
			Expect(p.ContainsTraceback(simpleTraceback)).To(BeTrue())
		})

		It("detects a SyntaxError block", func() {
			Expect(p.ContainsTraceback(syntaxErrorTraceback)).To(BeTrue())
		})

		It("detects a traceback inside a code fence", func() {
			fenced := "here's the error:\n```python\n" + simpleTraceback + "\n```"
			Expect(p.ContainsTraceback(fenced)).To(BeTrue())
		})
	})

	Describe("Parse", func() {
		It("rejects empty text", func() {
			_, err := p.Parse("")
			Expect(err).To(HaveOccurred())
		})

		It("rejects text with no traceback header", func() {
			_, err := p.Parse("no errors here")
			Expect(err).To(HaveOccurred())
		})

		It("extracts exception type and message from a simple traceback", func() {
			tb, err := p.Parse(simpleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.ExceptionType).To(Equal("ZeroDivisionError"))
			Expect(tb.ExceptionMessage).To(Equal("division by zero"))
			Expect(tb.IsChained).To(BeFalse())
		})

		It("extracts frames in order with code lines", func() {
			tb, err := p.Parse(simpleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.Frames).To(HaveLen(2))
			Expect(tb.Frames[0].FilePath).To(Equal("app.py"))
			Expect(tb.Frames[0].LineNumber).To(Equal(10))
			Expect(tb.Frames[0].FunctionName).To(Equal("<module>"))
			Expect(tb.Frames[0].CodeLine).To(Equal("main()"))
			Expect(tb.Frames[1].FunctionName).To(Equal("main"))
			Expect(tb.Frames[1].CodeLine).To(Equal("return 1 / 0"))
		})

		It("folds a chained exception so the outer exception carries the cause", func() {
			tb, err := p.Parse(chainedTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.ExceptionType).To(Equal("RuntimeError"))
			Expect(tb.IsChained).To(BeTrue())
			Expect(tb.Cause).NotTo(BeNil())
			Expect(tb.Cause.ExceptionType).To(Equal("ValueError"))
			Expect(tb.Cause.IsChained).To(BeFalse())
		})

		It("parses a SyntaxError into a single synthetic frame", func() {
			tb, err := p.Parse(syntaxErrorTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.ExceptionType).To(Equal("SyntaxError"))
			Expect(tb.ExceptionMessage).To(Equal("invalid syntax"))
			Expect(tb.Frames).To(HaveLen(1))
			Expect(tb.Frames[0].FilePath).To(Equal("broken.py"))
			Expect(tb.Frames[0].LineNumber).To(Equal(3))
			Expect(tb.Frames[0].FunctionName).To(Equal("<module>"))
		})

		It("unwraps a traceback embedded in a code fence", func() {
			fenced := "here's what I got:\n```\n" + simpleTraceback + "\n```\nany ideas?"
			tb, err := p.Parse(fenced)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.ExceptionType).To(Equal("ZeroDivisionError"))
		})

		It("keeps RawText as the original text, not the extracted fragment", func() {
			tb, err := p.Parse(simpleTraceback)
			Expect(err).NotTo(HaveOccurred())
			Expect(tb.RawText).To(Equal(simpleTraceback))
		})
	})

	Describe("ExtractAll", func() {
		It("returns both tracebacks from a chained exception, outermost cause first", func() {
			all := p.ExtractAll(chainedTraceback)
			Expect(all).To(HaveLen(2))
			Expect(all[0].ExceptionType).To(Equal("ValueError"))
			Expect(all[1].ExceptionType).To(Equal("RuntimeError"))
		})

		It("returns a single-element slice for an unchained traceback", func() {
			all := p.ExtractAll(simpleTraceback)
			Expect(all).To(HaveLen(1))
		})

		It("returns nil for text with no traceback", func() {
			all := p.ExtractAll("nothing to see here")
			Expect(all).To(BeEmpty())
		})
	})

	Describe("multi-line exception messages", func() {
		It("captures only the last non-frame line as the message", func() {
			tb := `Traceback (most recent call last):
  File "app.py", line 1, in <module>
    raise ValueError("bad: " + str(1))
ValueError: bad: 1`
			parsed, err := p.Parse(tb)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.ExceptionMessage).To(Equal("bad: 1"))
		})
	})

	Describe("qualified exception names", func() {
		It("accepts dotted exception type names", func() {
			tb := strings.ReplaceAll(simpleTraceback, "ZeroDivisionError", "mypkg.errors.CustomError")
			parsed, err := p.Parse(tb)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.ExceptionType).To(Equal("mypkg.errors.CustomError"))
		})
	})

	Describe("truncated tracebacks", func() {
		It("succeeds with a sentinel exception type when the exception line is cut off but frames survived", func() {
			tb := `Traceback (most recent call last):
  File "app.py", line 10, in <module>
    main()
  File "app.py", line 6, in main
    return 1 / 0`
			parsed, err := p.Parse(tb)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.ExceptionType).To(Equal("<truncated>"))
			Expect(parsed.ExceptionMessage).To(BeEmpty())
			Expect(parsed.Frames).To(HaveLen(2))
		})

		It("still fails when both the exception line and every frame are missing", func() {
			tb := "Traceback (most recent call last):\n"
			_, err := p.Parse(tb)
			Expect(err).To(HaveOccurred())
		})
	})
})
