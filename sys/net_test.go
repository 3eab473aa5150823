package sys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLoopbackHost(t *testing.T) {
	testCases := []struct {
		host     string
		expected bool
	}{
		{"localhost", true},
		{"LOCALHOST:3000", true},
		{"127.0.0.1", true},
		{"127.0.0.1:3000", true},
		{"::1", true},
		{"[::1]:3000", true},
		{"0.0.0.0", false},
		{"::", false},
		{"192.168.1.1", false},
		{"example.com", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsLoopbackHost(tc.host))
		})
	}
}

func TestLoopbackAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3000", LoopbackAddr("", 3000))
	assert.Equal(t, "[::1]:8080", LoopbackAddr("::1", 8080))
}
