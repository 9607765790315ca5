package cookiejar

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// Format is the closed export/import codec set from spec §4.E.
type Format string

const (
	FormatJSON     Format = "json"
	FormatNetscape Format = "netscape"
	FormatCSV      Format = "csv"
	FormatCurl     Format = "curl"
)

type jsonCookie struct {
	Name           string `json:"name"`
	Value          string `json:"value"`
	Domain         string `json:"domain"`
	Path           string `json:"path"`
	Secure         bool   `json:"secure"`
	HTTPOnly       bool   `json:"httpOnly"`
	SameSite       string `json:"sameSite,omitempty"`
	ExpirationDate *int64 `json:"expirationDate,omitempty"`
}

type jsonExport struct {
	Count   int          `json:"count"`
	Cookies []jsonCookie `json:"cookies"`
}

func toJSONCookie(c Cookie) jsonCookie {
	jc := jsonCookie{
		Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
		Secure: c.Secure, HTTPOnly: c.HTTPOnly, SameSite: string(c.SameSite),
	}
	if c.ExpirationDate != nil {
		ts := c.ExpirationDate.Unix()
		jc.ExpirationDate = &ts
	}
	return jc
}

func fromJSONCookie(jc jsonCookie) Cookie {
	c := Cookie{
		Name: jc.Name, Value: jc.Value, Domain: jc.Domain, Path: jc.Path,
		Secure: jc.Secure, HTTPOnly: jc.HTTPOnly, SameSite: SameSite(jc.SameSite),
	}
	if jc.ExpirationDate != nil {
		t := time.Unix(*jc.ExpirationDate, 0)
		c.ExpirationDate = &t
	}
	return c
}

// ExportJSON produces a pretty-printed payload with a cookie count.
func ExportJSON(cookies []Cookie) (string, error) {
	out := jsonExport{Count: len(cookies)}
	for _, c := range cookies {
		out.Cookies = append(out.Cookies, toJSONCookie(c))
	}
	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.IllegalState, "cookiejar: json export failed", err)
	}
	return string(buf), nil
}

// ImportJSON re-hydrates cookies from an ExportJSON payload.
func ImportJSON(payload string) ([]Cookie, error) {
	var in jsonExport
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil, errs.Wrap(errs.ArgumentInvalid, "cookiejar: invalid json payload", err)
	}
	out := make([]Cookie, 0, len(in.Cookies))
	for _, jc := range in.Cookies {
		out = append(out, fromJSONCookie(jc))
	}
	return out, nil
}

const netscapeHeader = "# Netscape HTTP Cookie File"

// ExportNetscape produces the tab-delimited Netscape cookie file format.
func ExportNetscape(cookies []Cookie) string {
	var b strings.Builder
	b.WriteString(netscapeHeader)
	b.WriteString("\n")
	for _, c := range cookies {
		expiry := "0"
		if c.ExpirationDate != nil {
			expiry = strconv.FormatInt(c.ExpirationDate.Unix(), 10)
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		fmt.Fprintf(&b, "%s\tTRUE\t%s\t%s\t%s\t%s\t%s\n",
			c.Domain, c.Path, secure, expiry, c.Name, c.Value)
	}
	return b.String()
}

// ImportNetscape parses the Netscape cookie file format, tolerating both
// the 7-field and a single-line variant some exporters emit.
func ImportNetscape(payload string) ([]Cookie, error) {
	var out []Cookie
	lines := strings.Split(payload, "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			return nil, errs.New(errs.ArgumentInvalid, "cookiejar: malformed netscape line: "+line)
		}
		c := Cookie{
			Domain: fields[0],
			Path:   fields[2],
			Secure: strings.EqualFold(fields[3], "TRUE"),
			Name:   fields[5],
			Value:  fields[6],
		}
		if fields[4] != "0" && fields[4] != "" {
			if secs, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
				t := time.Unix(secs, 0)
				c.ExpirationDate = &t
			}
		}
		out = append(out, c)
	}
	return out, nil
}

var csvHeader = []string{"Name", "Value", "Domain", "Path", "Secure", "HttpOnly", "SameSite", "ExpirationDate"}

// ExportCSV produces a header row plus one row per cookie.
func ExportCSV(cookies []Cookie) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", errs.Wrap(errs.IllegalState, "cookiejar: csv export failed", err)
	}
	for _, c := range cookies {
		expiry := ""
		if c.ExpirationDate != nil {
			expiry = strconv.FormatInt(c.ExpirationDate.Unix(), 10)
		}
		row := []string{
			c.Name, c.Value, c.Domain, c.Path,
			strconv.FormatBool(c.Secure), strconv.FormatBool(c.HTTPOnly),
			string(c.SameSite), expiry,
		}
		if err := w.Write(row); err != nil {
			return "", errs.Wrap(errs.IllegalState, "cookiejar: csv export failed", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errs.Wrap(errs.IllegalState, "cookiejar: csv export failed", err)
	}
	return buf.String(), nil
}

// ImportCSV parses the ExportCSV format back into cookies.
func ImportCSV(payload string) ([]Cookie, error) {
	r := csv.NewReader(strings.NewReader(payload))
	records, err := r.ReadAll()
	if err != nil {
		return nil, errs.Wrap(errs.ArgumentInvalid, "cookiejar: invalid csv payload", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	var out []Cookie
	for _, row := range records[1:] { // skip header
		if len(row) < 8 {
			continue
		}
		c := Cookie{
			Name: row[0], Value: row[1], Domain: row[2], Path: row[3],
			Secure: row[4] == "true", HTTPOnly: row[5] == "true", SameSite: SameSite(row[6]),
		}
		if row[7] != "" {
			if secs, err := strconv.ParseInt(row[7], 10, 64); err == nil {
				t := time.Unix(secs, 0)
				c.ExpirationDate = &t
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ExportCurl emits a `-H "Cookie: ..."` fragment scoped to the cookies
// applicable to the given URL's domain.
func ExportCurl(cookies []Cookie, domain string) string {
	var parts []string
	for _, c := range cookies {
		if domain != "" && !strings.HasSuffix(domain, strings.TrimPrefix(c.Domain, ".")) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return fmt.Sprintf(`-H "Cookie: %s"`, strings.Join(parts, "; "))
}

// Export dispatches to the named codec.
func Export(format Format, cookies []Cookie, domain string) (string, error) {
	switch format {
	case FormatJSON:
		return ExportJSON(cookies)
	case FormatNetscape:
		return ExportNetscape(cookies), nil
	case FormatCSV:
		return ExportCSV(cookies)
	case FormatCurl:
		return ExportCurl(cookies, domain), nil
	default:
		return "", errs.New(errs.UnknownExportFormat, "cookiejar: unknown export format: "+string(format))
	}
}

// Import dispatches to the named codec; curl has no import form.
func Import(format Format, payload string) ([]Cookie, error) {
	switch format {
	case FormatJSON:
		return ImportJSON(payload)
	case FormatNetscape:
		return ImportNetscape(payload)
	case FormatCSV:
		return ImportCSV(payload)
	default:
		return nil, errs.New(errs.UnknownExportFormat, "cookiejar: format has no import form: "+string(format))
	}
}
