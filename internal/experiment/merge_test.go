// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package experiment

import (
	"reflect"
	"testing"
)

func TestMergeConfig(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]any
		override map[string]any
		want     map[string]any
	}{
		{
			name:     "override wins on scalar conflict",
			base:     map[string]any{"steps": 3, "theme": "light"},
			override: map[string]any{"steps": 1},
			want:     map[string]any{"steps": 1, "theme": "light"},
		},
		{
			name:     "nested maps merge one level",
			base:     map[string]any{"ui": map[string]any{"color": "blue", "size": "m"}},
			override: map[string]any{"ui": map[string]any{"color": "red"}},
			want:     map[string]any{"ui": map[string]any{"color": "red", "size": "m"}},
		},
		{
			name: "deeper structures replace wholesale",
			base: map[string]any{
				"ui": map[string]any{
					"button": map[string]any{"color": "blue", "radius": 4},
				},
			},
			override: map[string]any{
				"ui": map[string]any{
					"button": map[string]any{"color": "red"},
				},
			},
			want: map[string]any{
				"ui": map[string]any{
					"button": map[string]any{"color": "red"},
				},
			},
		},
		{
			name:     "map replaces scalar",
			base:     map[string]any{"layout": "grid"},
			override: map[string]any{"layout": map[string]any{"columns": 2}},
			want:     map[string]any{"layout": map[string]any{"columns": 2}},
		},
		{
			name:     "scalar replaces map",
			base:     map[string]any{"layout": map[string]any{"columns": 2}},
			override: map[string]any{"layout": "grid"},
			want:     map[string]any{"layout": "grid"},
		},
		{
			name:     "nil override keeps base",
			base:     map[string]any{"steps": 3},
			override: nil,
			want:     map[string]any{"steps": 3},
		},
		{
			name:     "nil base takes override",
			base:     nil,
			override: map[string]any{"steps": 1},
			want:     map[string]any{"steps": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeConfig(tt.base, tt.override)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeConfig() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMergeConfigDoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"ui": map[string]any{"color": "blue"}}
	override := map[string]any{"ui": map[string]any{"color": "red"}}

	MergeConfig(base, override)

	if base["ui"].(map[string]any)["color"] != "blue" {
		t.Error("base mutated by merge")
	}
	if override["ui"].(map[string]any)["color"] != "red" {
		t.Error("override mutated by merge")
	}
}
