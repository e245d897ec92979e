package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePort(t *testing.T) {
	for _, tc := range []struct {
		in     string
		want   int
		hasErr bool
	}{
		{in: "3000", want: 3000},
		{in: " 8080 ", want: 8080},
		{in: "1", want: 1},
		{in: "65535", want: 65535},
		{in: "", hasErr: true},
		{in: "0", hasErr: true},
		{in: "65536", hasErr: true},
		{in: "http", hasErr: true},
		{in: "-1", hasErr: true},
	} {
		got, err := ParsePort(tc.in)
		if tc.hasErr {
			assert.Error(t, err, tc.in)
			continue
		}
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestDialHost(t *testing.T) {
	assert.Equal(t, "127.0.0.1", DialHost("0.0.0.0"))
	assert.Equal(t, "127.0.0.1", DialHost(""))
	assert.Equal(t, "192.168.1.10", DialHost("192.168.1.10"))
}
