package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"
	"github.com/itchyny/gojq"
)

const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

func validateOutput(f string) error {
	switch f {
	case formatText, formatYAML, formatJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (want text, yaml or json)", f)
}

type styles struct {
	Title lipgloss.Style
	Text  lipgloss.Style
	Dim   lipgloss.Style
}

func newStyles(noColor bool) styles {
	if noColor {
		return styles{Title: lipgloss.NewStyle(), Text: lipgloss.NewStyle(), Dim: lipgloss.NewStyle()}
	}
	return styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		Text:  lipgloss.NewStyle().Bold(true),
		Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	}
}

// texter is implemented by values with a human-readable rendering.
type texter interface {
	text(s styles) string
}

// printer writes command results in the selected format, optionally
// filtered through a jq query.
type printer struct {
	w      io.Writer
	format string
	query  *gojq.Code
	styles styles
}

func newPrinter(g *globalOptions, w io.Writer) (*printer, error) {
	p := &printer{w: w, format: g.output, styles: newStyles(g.noColor)}
	if g.query != "" {
		q, err := gojq.Parse(g.query)
		if err != nil {
			return nil, fmt.Errorf("parse query: %w", err)
		}
		if p.query, err = gojq.Compile(q); err != nil {
			return nil, fmt.Errorf("compile query: %w", err)
		}
	}
	return p, nil
}

func (p *printer) print(v any) error {
	if p.query == nil {
		return p.write(v)
	}
	// gojq works on plain JSON values.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var in any
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	iter := p.query.Run(in)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := out.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return fmt.Errorf("query: %w", err)
		}
		if err := p.write(out); err != nil {
			return err
		}
	}
}

func (p *printer) write(v any) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("format output: %w", err)
		}
		_, err = p.w.Write(data)
		return err
	}
	var s string
	switch v := v.(type) {
	case texter:
		s = v.text(p.styles)
	case string:
		s = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		s = string(data)
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, err := io.WriteString(p.w, s)
	return err
}
