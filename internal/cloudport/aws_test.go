package cloudport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var _ Port = (*AWSAdapter)(nil)

func TestValidTerminationPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy string
		want   string
	}{
		{"lowercase on_idle", "on_idle", "on_idle"},
		{"mixed case never", "Never", "never"},
		{"after hours singular", "After 1 hour", "After 1 hour"},
		{"after hours plural", "After 12 hours", "After 12 hours"},
		{"after hours out of range", "After 25 hours", ""},
		{"after hours zero", "After 0 hours", ""},
		{"rfc1123 date", "Mon, 02 Jan 2006 15:04:05 MST", "Mon, 02 Jan 2006 15:04:05 MST"},
		{"garbage", "whenever works", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidTerminationPolicy(tc.policy))
		})
	}
}
