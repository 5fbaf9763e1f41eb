package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reqWithAccept(accept string) *http.Request {
	return &http.Request{
		Header: http.Header{"Accept": []string{accept}},
	}
}

func TestNegotiateContentType(t *testing.T) {
	offered := []string{"application/json", "text/plain"}

	// No header at all: first offered wins.
	assert.Equal(t, "application/json", negotiateContentType(&http.Request{Header: http.Header{}}, offered))
	// Explicit preference.
	assert.Equal(t, "text/plain", negotiateContentType(reqWithAccept("text/plain"), offered))
	// Quality decides.
	assert.Equal(t, "text/plain", negotiateContentType(reqWithAccept("application/json;q=0.8, text/plain;q=0.9"), offered))
	// Equal quality: offer order decides.
	assert.Equal(t, "application/json", negotiateContentType(reqWithAccept("text/plain, application/json"), offered))
	// Nothing acceptable.
	assert.Equal(t, "", negotiateContentType(reqWithAccept("application/xml"), offered))
}
