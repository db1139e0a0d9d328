package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEndpoint(t *testing.T) {
	remote := EndpointPolicy{}
	local := EndpointPolicy{AllowHTTP: true, AllowLocal: true}

	cases := []struct {
		url    string
		policy EndpointPolicy
		ok     bool
	}{
		{"https://api.openai.com/v1", remote, true},
		{"http://api.openai.com/v1", remote, false},
		{"ftp://api.openai.com", remote, false},
		{"https://", remote, false},
		{"https://localhost:8080/v1", remote, false},
		{"https://gpu.local", remote, false},
		{"https://127.0.0.1/v1", remote, false},
		{"https://10.0.0.5/v1", remote, false},
		{"https://[fe80::1%25eth0]/", remote, false},
		{"https://0.0.0.0/", local, false},
		{"http://localhost:11434", local, true},
		{"http://192.168.1.20:11434", local, true},
		{"https://[fe80::1%25eth0]/", local, true},
		{"https://8.8.8.8/", remote, true},
	}
	for _, c := range cases {
		err := ValidateEndpoint(c.url, c.policy)
		if c.ok {
			assert.NoError(t, err, c.url)
		} else {
			assert.ErrorIs(t, err, ErrUnsafeEndpoint, c.url)
		}
	}
}
