package ingest

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// wordGap is the horizontal gap, as a fraction of the font size, past which
// two glyphs on one line are read as separate words.
const wordGap = 0.15

var disableConfigDir sync.Once

// ExtractText returns the text of every page of a PDF, pages separated by
// a blank line. pdfcpu validates the file; glyph decoding, including
// ToUnicode maps for composite fonts, is left to ledongthuc/pdf.
func ExtractText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &IngestionError{Reason: "empty file"}
	}
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return "", &IngestionError{Reason: "unreadable PDF", Err: err}
	}
	if err := api.ValidateContext(ctx); err != nil {
		return "", &IngestionError{Reason: "invalid PDF", Err: err}
	}

	pages, err := pageTexts(data, ctx.PageCount)
	if err != nil {
		return "", err
	}

	text := strings.Join(pages, "\n\n")
	if strings.TrimSpace(text) == "" {
		return "", &IngestionError{Reason: "no extractable text"}
	}
	return text, nil
}

// pageTexts decodes the first count pages, skipping pages without text.
func pageTexts(data []byte, count int) (pages []string, err error) {
	// The reader reports malformed objects by panicking.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &IngestionError{Reason: "read page content", Err: fmt.Errorf("%v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &IngestionError{Reason: "unreadable PDF", Err: err}
	}
	if n := r.NumPage(); n < count || count <= 0 {
		count = n
	}

	pages = make([]string, 0, count)
	for nr := 1; nr <= count; nr++ {
		p := r.Page(nr)
		if p.V.IsNull() || p.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		if text := layoutText(p.Content().Text); text != "" {
			pages = append(pages, text)
		}
	}
	return pages, nil
}

// layoutText joins positioned glyphs in drawing order. A change of
// baseline starts a new line; a horizontal jump wider than a fraction of
// the font size becomes a space.
func layoutText(glyphs []pdf.Text) string {
	var b strings.Builder
	var prev *pdf.Text
	for i := range glyphs {
		g := &glyphs[i]
		if g.S == "" {
			continue
		}
		if prev != nil {
			size := math.Max(math.Abs(prev.FontSize), 1)
			switch {
			case math.Abs(g.Y-prev.Y) > size/2:
				b.WriteByte('\n')
			case g.X-(prev.X+prev.W) > size*wordGap:
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
		prev = g
	}
	return tidy(b.String())
}

// tidy collapses runs of whitespace within lines and of blank lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
