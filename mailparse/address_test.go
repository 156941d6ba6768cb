package mailparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAddress(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantName  string
		wantEmail string
	}{
		{name: "quoted display name", value: `"Jane Doe" <jane@x.com>`, wantName: "Jane Doe", wantEmail: "jane@x.com"},
		{name: "bare address", value: "jane@x.com", wantName: "", wantEmail: "jane@x.com"},
		{name: "angle address only", value: "<jane@x.com>", wantName: "", wantEmail: "jane@x.com"},
		{name: "unquoted comma in decoded name", value: "Doe, Jane <jane@x.com>", wantName: "Doe, Jane", wantEmail: "jane@x.com"},
		{name: "first of a list", value: "a@x.com, b@y.com", wantName: "", wantEmail: "a@x.com"},
		{name: "name without address", value: "Jane Doe", wantName: "", wantEmail: ""},
		{name: "empty", value: "  ", wantName: "", wantEmail: ""},
		{name: "garbage in brackets", value: "Jane <not an address>", wantName: "", wantEmail: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, email := ResolveAddress(tt.value)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantEmail, email)
		})
	}
}
