// Package session glues the session-storage collaborator onto the
// dispatch core using gorilla cookie sessions.
package session

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

// NewStore builds a cookie-backed session store. The hash and block
// keys are derived from the secret; an empty secret gets random keys,
// invalidating sessions on restart.
func NewStore(secret string) sessions.Store {
	var hashKey, blockKey []byte
	if secret == "" {
		hashKey = securecookie.GenerateRandomKey(32)
		blockKey = securecookie.GenerateRandomKey(32)
	} else {
		sum := sha256.Sum256([]byte(secret))
		hashKey = sum[:]
		sum = sha256.Sum256([]byte("block:" + secret))
		blockKey = sum[:]
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options.Path = "/"
	store.Options.HttpOnly = true

	return store
}

// Data returns the value mapping of the named session for this
// request, creating the session when absent.
func Data(store sessions.Store, r *http.Request, name string) (map[interface{}]interface{}, error) {
	session, err := store.Get(r, name)
	if err != nil {
		return nil, err
	}
	return session.Values, nil
}
