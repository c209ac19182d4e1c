package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"tenderpipe/internal/ingest"
	"tenderpipe/internal/logging"
)

// ProcessInputs turns provided values into typed inputs. Values come from
// provided first, then the declared default. A missing required input, an
// unreadable file or an option outside its list is a *ConfigError. Provided
// keys that no input declares pass through unchanged.
func ProcessInputs(specs []InputSpec, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(specs))
	declared := make(map[string]bool, len(specs))

	for _, spec := range specs {
		declared[spec.Name] = true
		raw, ok := provided[spec.Name]
		if !ok || isBlank(raw) {
			raw = spec.Default
		}
		if isBlank(raw) {
			if spec.Required {
				return nil, configErrorf("inputs", "required input %q not provided", spec.Name)
			}
			switch spec.Type {
			case InputNumber:
				out[spec.Name] = 0.0
			case InputBoolean:
				out[spec.Name] = false
			case InputFile:
				// optional file inputs are simply absent
			default:
				out[spec.Name] = ""
			}
			continue
		}

		v, err := convertInput(spec, raw)
		if err != nil {
			return nil, &ConfigError{Op: "inputs", Err: err}
		}
		out[spec.Name] = v
	}

	for k, v := range provided {
		if !declared[k] {
			logging.PipelineDebug("input %q is not declared, passed through", k)
			out[k] = v
		}
	}
	return out, nil
}

func convertInput(spec InputSpec, raw any) (any, error) {
	switch spec.Type {
	case InputFile:
		if doc, ok := raw.(map[string]any); ok {
			return doc, nil
		}
		path := fmt.Sprint(raw)
		doc, err := ingest.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", spec.Name, err)
		}
		logging.Pipeline("processed %s: %d characters", spec.Name, doc.ContentLength)
		return doc.Map(), nil

	case InputOption:
		if len(spec.Options) > 0 && !containsOption(spec.Options, raw) {
			return nil, fmt.Errorf("input %q: %v is not one of %v", spec.Name, raw, spec.Options)
		}
		return raw, nil

	case InputNumber:
		switch n := raw.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(raw)), 64)
		if err != nil {
			return nil, fmt.Errorf("input %q: %q is not a number", spec.Name, raw)
		}
		return f, nil

	case InputBoolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		switch strings.ToLower(strings.TrimSpace(fmt.Sprint(raw))) {
		case "y", "yes", "true", "1", "on":
			return true, nil
		case "n", "no", "false", "0", "off":
			return false, nil
		}
		return nil, fmt.Errorf("input %q: %q is not a boolean", spec.Name, raw)
	}

	if s, ok := raw.(string); ok {
		return s, nil
	}
	return fmt.Sprint(raw), nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
