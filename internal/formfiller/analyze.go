// Package formfiller implements the Smart Form Filler (spec.md §4.F): field
// classification, honeypot/CAPTCHA detection, and priority-resolved value
// filling, with an optional operator-supplied JS classifier hook.
//
// Grounded on the teacher's internal/tools/analyze/forms.go (form discovery
// argument shape) and internal/tools/interact/selector.go (selector
// resolution), generalized from query-arg parsing into full field
// classification and fill-value resolution.
package formfiller

import (
	"regexp"
	"strings"
)

// FieldType is the closed classification taxonomy from spec §4.F.
type FieldType string

const (
	FieldEmail       FieldType = "email"
	FieldPassword    FieldType = "password"
	FieldTel         FieldType = "tel"
	FieldGivenName   FieldType = "given-name"
	FieldFamilyName  FieldType = "family-name"
	FieldStreetAddr  FieldType = "street-address"
	FieldPostalCode  FieldType = "postal-code"
	FieldCountry     FieldType = "country"
	FieldUnknown     FieldType = "unknown"
)

// Field is the raw description the Page Host reports for one form control.
type Field struct {
	Name         string
	ID           string
	Placeholder  string
	Label        string
	NativeType   string // the HTML "type" attribute
	Autocomplete string
	Selector     string
	Honeypot     bool // style/attribute heuristics the host already applied
}

// FormField is the analyzed result spec §4.F names.
type FormField struct {
	Field
	DetectedType FieldType
}

// Form is a discovered form and its fields.
type Form struct {
	Selector string
	Fields   []Field
	HasCaptcha bool
}

var autocompleteTokens = map[string]FieldType{
	"email":          FieldEmail,
	"given-name":     FieldGivenName,
	"family-name":    FieldFamilyName,
	"tel":            FieldTel,
	"street-address": FieldStreetAddr,
	"postal-code":    FieldPostalCode,
	"country":        FieldCountry,
}

var nativeTypeToField = map[string]FieldType{
	"email":    FieldEmail,
	"tel":      FieldTel,
	"password": FieldPassword,
}

// regexRules are evaluated in order against name|id|placeholder|label,
// case-insensitively, per spec §4.F rule (3).
var regexRules = []struct {
	pattern *regexp.Regexp
	field   FieldType
}{
	{regexp.MustCompile(`(?i)e[-_]?mail`), FieldEmail},
	{regexp.MustCompile(`(?i)pass(word)?`), FieldPassword},
	{regexp.MustCompile(`(?i)(phone|tel|mobile)`), FieldTel},
	{regexp.MustCompile(`(?i)(first[-_ ]?name|given[-_ ]?name|fname)`), FieldGivenName},
	{regexp.MustCompile(`(?i)(last[-_ ]?name|surname|family[-_ ]?name|lname)`), FieldFamilyName},
	{regexp.MustCompile(`(?i)(address|street)`), FieldStreetAddr},
	{regexp.MustCompile(`(?i)(zip|postal)`), FieldPostalCode},
	{regexp.MustCompile(`(?i)country`), FieldCountry},
}

// ClassifierFunc lets an operator-registered hook (otto script or otherwise)
// classify a field that the native type, autocomplete and regex rules all
// left unmatched; returning FieldUnknown (or "") leaves the field unknown.
type ClassifierFunc func(f Field) FieldType

// Classify resolves detectedType via: (1) native type attribute, (2)
// autocomplete token, (3) regex over name|id|placeholder|label.
func Classify(f Field, custom ClassifierFunc) FieldType {
	if ft, ok := nativeTypeToField[strings.ToLower(f.NativeType)]; ok {
		return ft
	}
	if ft, ok := autocompleteTokens[strings.ToLower(f.Autocomplete)]; ok {
		return ft
	}
	haystack := strings.Join([]string{f.Name, f.ID, f.Placeholder, f.Label}, " ")
	for _, rule := range regexRules {
		if rule.pattern.MatchString(haystack) {
			return rule.field
		}
	}
	if custom != nil {
		if ft := custom(f); ft != "" && ft != FieldUnknown {
			return ft
		}
	}
	return FieldUnknown
}

// AnalyzeForm classifies every field in a discovered form.
func AnalyzeForm(form Form, custom ClassifierFunc) []FormField {
	out := make([]FormField, 0, len(form.Fields))
	for _, f := range form.Fields {
		out = append(out, FormField{Field: f, DetectedType: Classify(f, custom)})
	}
	return out
}

var captchaSignals = []string{"captcha", "recaptcha", "hcaptcha", "turnstile"}

// DetectCaptcha reports whether any field's name/id/selector carries a
// known CAPTCHA marker.
func DetectCaptcha(form Form) bool {
	if form.HasCaptcha {
		return true
	}
	for _, f := range form.Fields {
		hay := strings.ToLower(strings.Join([]string{f.Name, f.ID, f.Selector}, " "))
		for _, sig := range captchaSignals {
			if strings.Contains(hay, sig) {
				return true
			}
		}
	}
	return false
}
