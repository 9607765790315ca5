package formfiller

import (
	"context"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
)

// FillOpts configures Fill per spec §4.F.
type FillOpts struct {
	RespectHoneypots bool
	SkipCaptchas     bool
	Submit           bool
	Custom           ClassifierFunc
}

// FieldResult reports the outcome for one field.
type FieldResult struct {
	Selector string
	Filled   bool
	Skipped  bool
	Reason   string
}

// FillResult is the aggregate outcome of one Fill call.
type FillResult struct {
	Fields    []FieldResult
	Submitted bool
}

// aliasTable maps alternate data-map keys to a canonical FieldType, e.g.
// spec's example "email ↔ email_address".
var aliasTable = map[string][]string{
	string(FieldEmail):      {"email", "email_address", "e_mail"},
	string(FieldPassword):   {"password", "pass", "pwd"},
	string(FieldTel):        {"phone", "tel", "mobile", "phone_number"},
	string(FieldGivenName):  {"first_name", "given_name", "fname"},
	string(FieldFamilyName): {"last_name", "family_name", "surname", "lname"},
	string(FieldStreetAddr): {"address", "street_address", "street"},
	string(FieldPostalCode): {"zip", "postal_code", "zip_code"},
	string(FieldCountry):    {"country"},
}

func resolveValue(f FormField, data map[string]string) (string, bool) {
	if v, ok := data[f.Name]; ok && f.Name != "" {
		return v, true
	}
	if v, ok := data[f.ID]; ok && f.ID != "" {
		return v, true
	}
	if aliases, ok := aliasTable[string(f.DetectedType)]; ok {
		for _, alias := range aliases {
			if v, ok := data[alias]; ok {
				return v, true
			}
		}
	}
	return "", false
}

// Fill resolves a value for every fillable field and applies it through the
// Page Host, honoring honeypot and CAPTCHA gating per spec §4.F.
func Fill(ctx context.Context, host pagehost.Host, form Form, data map[string]string, opts FillOpts) (FillResult, error) {
	if opts.SkipCaptchas && DetectCaptcha(form) {
		return FillResult{}, errs.New(errs.CAPTCHADetected, "formfiller: captcha present, skipping fill")
	}

	analyzed := AnalyzeForm(form, opts.Custom)
	var results []FieldResult
	for _, f := range analyzed {
		if f.Honeypot && opts.RespectHoneypots {
			results = append(results, FieldResult{Selector: f.Selector, Skipped: true, Reason: "honeypot field"})
			continue
		}
		value, ok := resolveValue(f, data)
		if !ok {
			results = append(results, FieldResult{Selector: f.Selector, Skipped: true, Reason: "No data provided"})
			continue
		}
		code := setValueScript(f.Selector, value)
		if _, err := host.Evaluate(ctx, code, nil); err != nil {
			results = append(results, FieldResult{Selector: f.Selector, Skipped: true, Reason: err.Error()})
			continue
		}
		results = append(results, FieldResult{Selector: f.Selector, Filled: true})
	}

	submitted := false
	if opts.Submit {
		if _, err := host.Evaluate(ctx, submitScript(form.Selector), nil); err != nil {
			return FillResult{Fields: results}, errs.Wrap(errs.IllegalState, "formfiller: submit failed", err)
		}
		submitted = true
	}

	return FillResult{Fields: results, Submitted: submitted}, nil
}

// SetValueScript builds the DOM set-value script for one selector; exported
// so the dispatcher's single-field "fill"/"type_text" verbs can reuse it
// without going through the full form-analysis pipeline.
func SetValueScript(selector, value string) string {
	return setValueScript(selector, value)
}

func setValueScript(selector, value string) string {
	return `(function(){var el=document.querySelector(` + quote(selector) + `);` +
		`if(!el) return false; el.value=` + quote(value) + `;` +
		`el.dispatchEvent(new Event('input',{bubbles:true}));` +
		`el.dispatchEvent(new Event('change',{bubbles:true})); return true;})()`
}

func submitScript(selector string) string {
	return `(function(){var f=document.querySelector(` + quote(selector) + `);` +
		`if(!f) return false; f.submit(); return true;})()`
}

func quote(s string) string {
	out := "'"
	for _, r := range s {
		if r == '\'' || r == '\\' {
			out += "\\"
		}
		out += string(r)
	}
	return out + "'"
}
