package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidServiceName(t *testing.T) {
	assert.True(t, IsValidServiceName("api"))
	assert.True(t, IsValidServiceName("billing-worker_2"))
	assert.False(t, IsValidServiceName(""))
	assert.False(t, IsValidServiceName("-api"))
	assert.False(t, IsValidServiceName("api.v2"))
	assert.False(t, IsValidServiceName("../etc"))
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"1.0.0", false},
		{"2.0.0-rc.1+build.5", false},
		{"v20250812", false},
		{"", true},
		{".hidden", true},
		{"1..2", true},
		{"1/2", true},
		{"current", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateHTTPURL(t *testing.T) {
	assert.NoError(t, ValidateHTTPURL("http://127.0.0.1:8080/healthz"))
	assert.NoError(t, ValidateHTTPURL("https://api.example.com/ready"))
	assert.Error(t, ValidateHTTPURL("ftp://example.com"))
	assert.Error(t, ValidateHTTPURL("http://"))
	assert.Error(t, ValidateHTTPURL("not a url"))
}
