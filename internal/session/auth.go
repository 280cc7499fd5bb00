package session

import "sync"

// Credentials are supplied by whoever creates the bot. An empty GrowID logs
// in as a guest.
type Credentials struct {
	GrowID   string `json:"growid,omitempty"`
	Password string `json:"-"`
}

// Guest reports whether no account is configured.
func (c Credentials) Guest() bool { return c.GrowID == "" }

// ServerData is the host the next connection goes to.
type ServerData struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoginInfo carries the identifiers handed out by redirects and the display
// name the server assigned.
type LoginInfo struct {
	Token       string `json:"-"`
	UserID      string `json:"user_id"`
	DoorID      string `json:"door_id"`
	UUID        string `json:"uuid"`
	AAT         string `json:"-"`
	DisplayName string `json:"display_name"`
}

// AuthState is the pending redirect target and login data.
type AuthState struct {
	mu          sync.RWMutex
	credentials Credentials
	server      ServerData
	login       LoginInfo
}

func newAuthState(creds Credentials, server ServerData) *AuthState {
	return &AuthState{credentials: creds, server: server}
}

// Credentials returns the configured credentials.
func (a *AuthState) Credentials() Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.credentials
}

// ServerData returns the current connection target.
func (a *AuthState) ServerData() ServerData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.server
}

// SetServerData replaces the connection target.
func (a *AuthState) SetServerData(s ServerData) {
	a.mu.Lock()
	a.server = s
	a.mu.Unlock()
}

// LoginInfo returns a copy of the login data.
func (a *AuthState) LoginInfo() LoginInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.login
}

// TryLoginInfo is LoginInfo without waiting on a held lock.
func (a *AuthState) TryLoginInfo() (LoginInfo, error) {
	if !a.mu.TryRLock() {
		return LoginInfo{}, ErrUnavailable
	}
	defer a.mu.RUnlock()
	return a.login, nil
}

// DisplayName returns the name assigned by the server, if any.
func (a *AuthState) DisplayName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.login.DisplayName
}

func (a *AuthState) setDisplayName(name string) {
	a.mu.Lock()
	a.login.DisplayName = name
	a.mu.Unlock()
}

// redirect stores a pending redirect target in one critical section.
func (a *AuthState) redirect(server ServerData, token, userID, doorID, uuid, aat string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.server = server
	a.login.Token = token
	a.login.UserID = userID
	a.login.DoorID = doorID
	a.login.UUID = uuid
	a.login.AAT = aat
}

func (a *AuthState) reset(server ServerData) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.server = server
	a.login.Token = ""
	a.login.UserID = ""
	a.login.DoorID = ""
	a.login.UUID = ""
	a.login.AAT = ""
}
