package client

import (
	"errors"
	"fmt"

	"dragonrock/tabletop"
)

// Roles on the sheet. The GM can toggle edit mode and drive music; players
// edit only cards they own.
const (
	RoleGM     = "gm"
	RolePlayer = "player"
)

// User is the locally persisted identity and role.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// lookupCredentials checks the static account table: one GM plus ten
// numbered player accounts. A convenience lookup for a private game night,
// not a security boundary.
func lookupCredentials(username, password string) (User, bool) {
	if username == "gm" && password == "gm123" {
		return User{Username: "gm", Role: RoleGM}, true
	}
	for i := 1; i <= 10; i++ {
		u := fmt.Sprintf("player%d", i)
		if username == u && password == u {
			return User{Username: u, Role: RolePlayer}, true
		}
	}
	return User{}, false
}

// ErrBadCredentials is returned when the username/password pair is unknown.
var ErrBadCredentials = errors.New("unknown username or password")

// Login checks the static credential table, records the identity
// optimistically, and requests the global identity lock from the relay. If
// the relay rejects the lock (identity already live elsewhere) the engine
// rolls the login back and surfaces the rejection via Callbacks.AuthResult.
func (e *Engine) Login(username, password string) error {
	user, ok := lookupCredentials(username, password)
	if !ok {
		return ErrBadCredentials
	}

	e.mu.Lock()
	e.user = &user
	e.mu.Unlock()
	if err := e.store.PutJSON(keyUser, user); err != nil {
		return err
	}

	return e.emit(tabletop.EventAuthLogin, "", tabletop.LoginRequest{Username: user.Username})
}

// Logout releases the identity lock and forgets the persisted session.
func (e *Engine) Logout() error {
	e.mu.Lock()
	e.user = nil
	e.mu.Unlock()
	_ = e.store.Delete(keyUser)

	return e.emit(tabletop.EventAuthLogout, "", nil)
}

// CurrentUser returns the logged-in identity, or nil.
func (e *Engine) CurrentUser() *User {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user == nil {
		return nil
	}
	u := *e.user
	return &u
}
