package formfiller

import (
	"github.com/robertkrimen/otto"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// ScriptClassifier wraps an operator-supplied JS snippet that receives the
// field descriptor and returns a detectedType string, letting operators
// register extra classification rules without recompiling (SPEC_FULL §2
// component T).
//
// Grounded on firasghr-GoSessionEngine/jschallenge/solver.go's otto.New()
// sandbox-per-evaluation pattern, adapted from solving anti-bot JS
// challenges to running a pure classification function.
type ScriptClassifier struct {
	source string
}

// NewScriptClassifier compiles nothing eagerly; the script is parsed fresh
// on every call so one classifier instance is safe for concurrent use.
func NewScriptClassifier(source string) *ScriptClassifier {
	return &ScriptClassifier{source: source}
}

// Classify evaluates the script in a fresh VM, calling a top-level
// `classify(field)` function the script must define. Any error or
// non-string return is treated as "no opinion" (FieldUnknown).
func (s *ScriptClassifier) Classify(f Field) FieldType {
	vm := otto.New()
	if err := vm.Set("field", map[string]any{
		"name": f.Name, "id": f.ID, "placeholder": f.Placeholder,
		"label": f.Label, "nativeType": f.NativeType, "autocomplete": f.Autocomplete,
	}); err != nil {
		return FieldUnknown
	}
	script := s.source + "\nclassify(field);"
	value, err := vm.Run(script)
	if err != nil || !value.IsString() {
		return FieldUnknown
	}
	str, err := value.ToString()
	if err != nil || str == "undefined" || str == "null" {
		return FieldUnknown
	}
	return FieldType(str)
}

// AsClassifierFunc adapts the script classifier to the ClassifierFunc
// signature Classify/AnalyzeForm expect.
func (s *ScriptClassifier) AsClassifierFunc() ClassifierFunc {
	return s.Classify
}

// ValidateScript does a syntax-only compile check, surfacing a clear error
// before the script is registered.
func ValidateScript(source string) error {
	vm := otto.New()
	if _, err := vm.Compile("classifier.js", source); err != nil {
		return errs.Wrap(errs.ArgumentInvalid, "formfiller: invalid classifier script", err)
	}
	return nil
}
