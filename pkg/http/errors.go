package http

import (
	"errors"

	cascaderr "github.com/weaveworks/cascade/pkg/errors"
)

var ErrorUnauthorized = &cascaderr.Error{
	Type: cascaderr.User,
	Help: `The request failed authentication

This most likely means you have a missing or incorrect token. Please
make sure you supply a token, either by setting the environment
variable CASCADE_TOKEN, or using the argument --token with cascadectl.
`,
	Err: errors.New("request failed authentication"),
}

func MakeAPINotFound(path string) *cascaderr.Error {
	return &cascaderr.Error{
		Type: cascaderr.Missing,
		Help: `The API endpoint requested is not supported by this server.

This indicates that your client (probably cascadectl) is either out
of date, or faulty. Check that cascadectl and the daemon are the same
version, and if the problem persists, file an issue mentioning what
you were attempting to do, and include this path:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
