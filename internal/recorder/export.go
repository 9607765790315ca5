package recorder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// Dialect is the closed export target set from spec §4.H, plus the `har`
// addition from SPEC_FULL §4.H.
type Dialect string

const (
	DialectJSON       Dialect = "json"
	DialectSelenium   Dialect = "selenium"
	DialectPuppeteer  Dialect = "puppeteer"
	DialectPlaywright Dialect = "playwright"
	DialectHAR        Dialect = "har"
)

// ExportOpts configures the dialect transform.
type ExportOpts struct {
	IncludeImports bool
	IncludeSetup   bool
	IncludeWaits   bool
	DriverVar      string
	PageVar        string
	BrowserVar     string
	ContextVar     string
}

func (o ExportOpts) withDefaults() ExportOpts {
	if o.DriverVar == "" {
		o.DriverVar = "driver"
	}
	if o.PageVar == "" {
		o.PageVar = "page"
	}
	if o.BrowserVar == "" {
		o.BrowserVar = "browser"
	}
	if o.ContextVar == "" {
		o.ContextVar = "context"
	}
	return o
}

// escapePy quote-escapes and newline-escapes a string for Python literals.
func escapePy(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// escapeJS quote-escapes and newline-escapes a string for JS literals.
func escapeJS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// Export renders a sealed recording into the requested dialect.
func Export(s *Sealed, dialect Dialect, opts ExportOpts) (string, error) {
	opts = opts.withDefaults()
	switch dialect {
	case DialectJSON:
		return exportJSON(s)
	case DialectSelenium:
		return exportSelenium(s, opts), nil
	case DialectPuppeteer:
		return exportPuppeteer(s, opts), nil
	case DialectPlaywright:
		return exportPlaywright(s, opts), nil
	case DialectHAR:
		return exportHAR(s)
	default:
		return "", errs.New(errs.UnknownExportFormat, "recorder: unknown export dialect: "+string(dialect))
	}
}

func exportJSON(s *Sealed) (string, error) {
	payload := struct {
		Events      []Event            `json:"events"`
		Checkpoints []Checkpoint       `json:"checkpoints"`
		Metadata    map[string]any     `json:"metadata"`
		Hash        string             `json:"hash"`
	}{s.Events, s.Checkpoints, s.Metadata, s.Hash}
	buf, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.IllegalState, "recorder: json export failed", err)
	}
	return string(buf), nil
}

func exportSelenium(s *Sealed, opts ExportOpts) string {
	var b strings.Builder
	if opts.IncludeImports {
		b.WriteString("from selenium import webdriver\nfrom selenium.webdriver.common.by import By\n")
		if opts.IncludeWaits {
			b.WriteString("from selenium.webdriver.support.ui import WebDriverWait\nfrom selenium.webdriver.support import expected_conditions as EC\n")
		}
		b.WriteString("\n")
	}
	if opts.IncludeSetup {
		fmt.Fprintf(&b, "%s = webdriver.Chrome()\n\n", opts.DriverVar)
	}
	for _, e := range s.Events {
		switch e.Type {
		case EventClick:
			fmt.Fprintf(&b, "%s.find_element(By.CSS_SELECTOR, '%s').click()\n", opts.DriverVar, escapePy(selOf(e)))
		case EventInput, EventChange:
			fmt.Fprintf(&b, "%s.find_element(By.CSS_SELECTOR, '%s').send_keys('%s')\n", opts.DriverVar, escapePy(selOf(e)), escapePy(e.Value))
		case EventNavigation, EventLoad:
			fmt.Fprintf(&b, "%s.get('%s')\n", opts.DriverVar, escapePy(e.Value))
		default:
			fmt.Fprintf(&b, "# Unsupported action: %s\n", e.Type)
		}
	}
	return b.String()
}

func exportPuppeteer(s *Sealed, opts ExportOpts) string {
	var b strings.Builder
	if opts.IncludeImports {
		b.WriteString("const puppeteer = require('puppeteer');\n\n")
	}
	if opts.IncludeSetup {
		fmt.Fprintf(&b, "const %s = await puppeteer.launch();\nconst %s = await %s.newPage();\n\n", opts.BrowserVar, opts.PageVar, opts.BrowserVar)
	}
	for _, e := range s.Events {
		switch e.Type {
		case EventClick:
			fmt.Fprintf(&b, "await %s.click('%s');\n", opts.PageVar, escapeJS(selOf(e)))
		case EventInput, EventChange:
			fmt.Fprintf(&b, "await %s.type('%s', '%s');\n", opts.PageVar, escapeJS(selOf(e)), escapeJS(e.Value))
		case EventNavigation, EventLoad:
			fmt.Fprintf(&b, "await %s.goto('%s');\n", opts.PageVar, escapeJS(e.Value))
		default:
			fmt.Fprintf(&b, "// Unsupported action: %s\n", e.Type)
		}
	}
	return b.String()
}

func exportPlaywright(s *Sealed, opts ExportOpts) string {
	var b strings.Builder
	if opts.IncludeImports {
		b.WriteString("const { chromium } = require('playwright');\n\n")
	}
	if opts.IncludeSetup {
		fmt.Fprintf(&b, "const %s = await chromium.launch();\nconst %s = await %s.newContext();\nconst %s = await %s.newPage();\n\n",
			opts.BrowserVar, opts.ContextVar, opts.BrowserVar, opts.PageVar, opts.ContextVar)
	}
	for _, e := range s.Events {
		switch e.Type {
		case EventClick:
			fmt.Fprintf(&b, "await %s.click('%s');\n", opts.PageVar, escapeJS(selOf(e)))
		case EventInput, EventChange:
			fmt.Fprintf(&b, "await %s.fill('%s', '%s');\n", opts.PageVar, escapeJS(selOf(e)), escapeJS(e.Value))
		case EventNavigation, EventLoad:
			fmt.Fprintf(&b, "await %s.goto('%s');\n", opts.PageVar, escapeJS(e.Value))
		default:
			fmt.Fprintf(&b, "// Unsupported action: %s\n", e.Type)
		}
	}
	return b.String()
}

// exportHAR renders navigation/load events as a minimal HTTP Archive
// structure (SPEC_FULL §4.H), corroborating the timeline without claiming
// full network-capture fidelity.
func exportHAR(s *Sealed) (string, error) {
	type harEntry struct {
		StartedDateTime string `json:"startedDateTime"`
		Request         struct {
			Method string `json:"method"`
			URL    string `json:"url"`
		} `json:"request"`
	}
	type har struct {
		Log struct {
			Version string     `json:"version"`
			Creator struct {
				Name string `json:"name"`
			} `json:"creator"`
			Entries []harEntry `json:"entries"`
		} `json:"log"`
	}
	var out har
	out.Log.Version = "1.2"
	out.Log.Creator.Name = "corvid-core"
	for _, e := range s.Events {
		if e.Type != EventNavigation && e.Type != EventLoad {
			continue
		}
		var entry harEntry
		entry.StartedDateTime = e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
		entry.Request.Method = "GET"
		entry.Request.URL = e.Value
		out.Log.Entries = append(out.Log.Entries, entry)
	}
	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.IllegalState, "recorder: har export failed", err)
	}
	return string(buf), nil
}

func selOf(e Event) string {
	if e.Element == nil {
		return ""
	}
	return e.Element.Selector
}
