package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

var (
	fenceOpen     = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	fenceClose    = regexp.MustCompile("\\s*```$")
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractObject returns the outermost JSON object found in a classifier reply.
// Code fences and surrounding prose are dropped and trailing commas removed.
func ExtractObject(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", domain.ErrNoJSONObject
	}
	text = text[start : end+1]

	for {
		fixed := trailingComma.ReplaceAllString(text, "$1")
		if fixed == text {
			break
		}
		text = fixed
	}
	return text, nil
}

// Decode extracts the object from reply and decodes it into out, which must be a pointer
// to a struct tagged for mapstructure or to a map. Scalar types are coerced weakly.
func Decode(reply string, out any) error {
	obj, err := ExtractObject(reply)
	if err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return fmt.Errorf("failed to parse classifier object: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode classifier object: %w", err)
	}
	return nil
}

// ParsePosition accepts [x, y], ["x", "y"] or a "x,y" string (optionally bracketed).
func ParsePosition(v any) (x, y int, err error) {
	switch p := v.(type) {
	case []any:
		if len(p) != 2 {
			return 0, 0, fmt.Errorf("position must have 2 coordinates, got %d", len(p))
		}
		if x, err = toInt(p[0]); err != nil {
			return 0, 0, err
		}
		if y, err = toInt(p[1]); err != nil {
			return 0, 0, err
		}
		return x, y, nil
	case []int:
		if len(p) != 2 {
			return 0, 0, fmt.Errorf("position must have 2 coordinates, got %d", len(p))
		}
		return p[0], p[1], nil
	case string:
		trimmed := strings.Trim(strings.TrimSpace(p), "[]()")
		var parts []string
		for _, s := range strings.Split(trimmed, ",") {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("invalid position string %q", p)
		}
		if x, err = toInt(parts[0]); err != nil {
			return 0, 0, err
		}
		if y, err = toInt(parts[1]); err != nil {
			return 0, 0, err
		}
		return x, y, nil
	case nil:
		return 0, 0, fmt.Errorf("missing position")
	default:
		return 0, 0, fmt.Errorf("unsupported position type %T", v)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		f, err := n.Float64()
		return int(f), err
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid coordinate %q: %w", n, err)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("invalid coordinate type %T", v)
	}
}

// Rescale converts a point in the normalized 0..1000 space to pixels.
func Rescale(x, y, width, height int) domain.Point {
	return domain.Point{X: x * width / 1000, Y: y * height / 1000}
}

func trimReply(reply string) string {
	text := strings.TrimSpace(reply)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return strings.Trim(strings.TrimSpace(text), "\"")
}
