package authapifake

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-auth-session/authapi"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

var _ authapi.Client = (*FakeClient)(nil)

type account struct {
	password string
	creds    token.Credentials
	user     users.Profile
}

// FakeClient is an in-memory authentication backend with call counters,
// programmable failures and gates that hold calls in flight.
type FakeClient struct {
	lock      sync.Mutex
	sessions  map[string]users.Profile
	refreshes map[string]token.Credentials
	accounts  map[string]account
	failures  map[string]error
	calls     map[string]int
	gates     map[string]*Gate
	loggedOut []token.Credentials
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		sessions:  make(map[string]users.Profile),
		refreshes: make(map[string]token.Credentials),
		accounts:  make(map[string]account),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		gates:     make(map[string]*Gate),
	}
}

// AddSession makes accessToken valid for p.
func (f *FakeClient) AddSession(accessToken string, p users.Profile) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.sessions[accessToken] = p
}

// RevokeSession makes accessToken invalid.
func (f *FakeClient) RevokeSession(accessToken string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.sessions, accessToken)
}

// AddRefresh makes refreshToken exchangeable for next. A refresh token is
// single use.
func (f *FakeClient) AddRefresh(refreshToken string, next token.Credentials) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.refreshes[refreshToken] = next
}

// Rotate registers a refresh from refreshToken to next whose access token
// validates as p.
func (f *FakeClient) Rotate(refreshToken string, next token.Credentials, p users.Profile) {
	f.AddRefresh(refreshToken, next)
	f.AddSession(next.AccessToken, p)
}

// AddAccount registers a login. The issued access token validates as user.
func (f *FakeClient) AddAccount(email, password string, creds token.Credentials, user users.Profile) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.accounts[email] = account{password: password, creds: creds, user: user}
	f.sessions[creds.AccessToken] = user
}

// Fail makes every call to op return err until Fail(op, nil).
func (f *FakeClient) Fail(op string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls returns how many times op was called.
func (f *FakeClient) Calls(op string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[op]
}

// LoggedOut returns the credentials passed to Logout.
func (f *FakeClient) LoggedOut() []token.Credentials {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]token.Credentials(nil), f.loggedOut...)
}

// Hold blocks subsequent calls to op until the gate is released.
func (f *FakeClient) Hold(op string) *Gate {
	f.lock.Lock()
	defer f.lock.Unlock()
	g := newGate()
	f.gates[op] = g
	return g
}

func (f *FakeClient) ValidateSession(ctx context.Context, accessToken string) (*users.Profile, error) {
	if err := f.enter(ctx, authapi.OpValidate); err != nil {
		return nil, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	p, ok := f.sessions[accessToken]
	if !ok {
		return nil, authapi.NewError(authapi.OpValidate, authapi.ErrAuth, http.StatusUnauthorized, nil)
	}
	return &p, nil
}

func (f *FakeClient) RefreshSession(ctx context.Context, refreshToken string) (*token.Credentials, error) {
	if err := f.enter(ctx, authapi.OpRefresh); err != nil {
		return nil, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	next, ok := f.refreshes[refreshToken]
	if !ok {
		return nil, authapi.NewError(authapi.OpRefresh, authapi.ErrAuth, http.StatusBadRequest, nil)
	}
	delete(f.refreshes, refreshToken)
	return &next, nil
}

func (f *FakeClient) Login(ctx context.Context, email, password string) (*authapi.LoginResult, error) {
	if err := f.enter(ctx, authapi.OpLogin); err != nil {
		return nil, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		return nil, authapi.NewError(authapi.OpLogin, authapi.ErrAuth, http.StatusUnauthorized, errors.New("invalid email or password"))
	}
	user := acc.user
	return &authapi.LoginResult{Credentials: acc.creds, User: &user}, nil
}

func (f *FakeClient) Logout(ctx context.Context, creds token.Credentials) error {
	if err := f.enter(ctx, authapi.OpLogout); err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.loggedOut = append(f.loggedOut, creds)
	delete(f.sessions, creds.AccessToken)
	delete(f.refreshes, creds.RefreshToken)
	return nil
}

// enter counts the call, waits on any gate and returns the programmed failure.
func (f *FakeClient) enter(ctx context.Context, op string) error {
	f.lock.Lock()
	f.calls[op]++
	gate := f.gates[op]
	f.lock.Unlock()

	if gate != nil {
		if err := gate.wait(ctx); err != nil {
			return authapi.TransportError(op, err)
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	return f.failures[op]
}

// Gate holds calls until Release.
type Gate struct {
	entered  chan struct{}
	released chan struct{}
	once     sync.Once
}

func newGate() *Gate {
	return &Gate{
		entered:  make(chan struct{}, 64),
		released: make(chan struct{}),
	}
}

// Entered receives once per call that reached the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release lets held and future calls through.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.released) })
}

func (g *Gate) wait(ctx context.Context) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
