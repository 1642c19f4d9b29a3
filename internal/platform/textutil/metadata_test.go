package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeMetadata(t *testing.T) {
	t.Run("trims keys and string values", func(t *testing.T) {
		input := map[string]any{
			" reason ": " misprint ",
			"attempt":  2,
			"empty":    " ",
			" ":        "ignored",
			"":         "ignore",
		}

		expected := map[string]any{
			"reason":  "misprint",
			"attempt": 2,
			"empty":   "",
		}

		actual := NormalizeMetadata(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeMetadata(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeMetadata(map[string]any{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
	})
}
