package formfiller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/pagehost"
)

func TestClassifyNativeTypeBeatsRegex(t *testing.T) {
	ft := Classify(Field{Name: "foo", NativeType: "email"}, nil)
	require.Equal(t, FieldEmail, ft)
}

func TestClassifyAutocompleteToken(t *testing.T) {
	ft := Classify(Field{Name: "x", Autocomplete: "given-name"}, nil)
	require.Equal(t, FieldGivenName, ft)
}

func TestClassifyRegexFallback(t *testing.T) {
	ft := Classify(Field{Name: "user_phone_number"}, nil)
	require.Equal(t, FieldTel, ft)
}

func TestClassifyUnknown(t *testing.T) {
	ft := Classify(Field{Name: "widget_color"}, nil)
	require.Equal(t, FieldUnknown, ft)
}

func TestDetectCaptchaBySignal(t *testing.T) {
	form := Form{Fields: []Field{{Name: "g-recaptcha-response"}}}
	require.True(t, DetectCaptcha(form))
}

func TestFillSkipsCaptchaWhenConfigured(t *testing.T) {
	host := pagehost.NewFakeHost("h1")
	form := Form{Selector: "#f", HasCaptcha: true, Fields: []Field{{Name: "email", Selector: "#email"}}}
	_, err := Fill(context.Background(), host, form, map[string]string{"email": "a@b.com"}, FillOpts{SkipCaptchas: true})
	require.Error(t, err)
}

func TestFillRespectsHoneypot(t *testing.T) {
	host := pagehost.NewFakeHost("h1")
	form := Form{Selector: "#f", Fields: []Field{
		{Name: "email", Selector: "#email"},
		{Name: "url", Selector: "#url", Honeypot: true},
	}}
	result, err := Fill(context.Background(), host, form, map[string]string{"email": "a@b.com", "url": "http://x"}, FillOpts{RespectHoneypots: true})
	require.NoError(t, err)
	require.Len(t, result.Fields, 2)
	var honeypotSkipped bool
	for _, f := range result.Fields {
		if f.Selector == "#url" {
			require.True(t, f.Skipped)
			honeypotSkipped = true
		}
	}
	require.True(t, honeypotSkipped)
}

func TestFillMissingValueSkippedWithReason(t *testing.T) {
	host := pagehost.NewFakeHost("h1")
	form := Form{Selector: "#f", Fields: []Field{{Name: "unknown_field", Selector: "#u"}}}
	result, err := Fill(context.Background(), host, form, map[string]string{}, FillOpts{})
	require.NoError(t, err)
	require.Len(t, result.Fields, 1)
	require.True(t, result.Fields[0].Skipped)
	require.Equal(t, "No data provided", result.Fields[0].Reason)
}

func TestFillResolvesByAlias(t *testing.T) {
	host := pagehost.NewFakeHost("h1")
	form := Form{Selector: "#f", Fields: []Field{{Name: "contact_email", NativeType: "email", Selector: "#email"}}}
	result, err := Fill(context.Background(), host, form, map[string]string{"email_address": "a@b.com"}, FillOpts{})
	require.NoError(t, err)
	require.True(t, result.Fields[0].Filled)
}

func TestScriptClassifierOverridesUnknown(t *testing.T) {
	sc := NewScriptClassifier(`function classify(field) { if (field.name.indexOf("promo") >= 0) return "promo-code"; return ""; }`)
	ft := Classify(Field{Name: "promo_field"}, sc.AsClassifierFunc())
	require.Equal(t, FieldType("promo-code"), ft)
}

func TestValidateScriptRejectsSyntaxError(t *testing.T) {
	err := ValidateScript(`function classify(field) { return`)
	require.Error(t, err)
}
