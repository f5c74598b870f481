package testsupport

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-wedding-cache/remote"
)

// FakeAuth is an in memory remote.Auth. Passwords are kept in clear.
type FakeAuth struct {
	mu        sync.Mutex
	now       func() time.Time
	users     map[string]fakeAccount
	current   *remote.Session
	listeners map[int]remote.AuthListener
	nextID    int
	fail      map[string]error
	calls     map[string]int
}

type fakeAccount struct {
	user     remote.User
	password string
}

var _ remote.Auth = (*FakeAuth)(nil)

func NewFakeAuth(now func() time.Time) *FakeAuth {
	if now == nil {
		now = time.Now
	}
	return &FakeAuth{
		now:       now,
		users:     map[string]fakeAccount{},
		listeners: map[int]remote.AuthListener{},
		fail:      map[string]error{},
		calls:     map[string]int{},
	}
}

// AddUser registers an account directly.
func (a *FakeAuth) AddUser(user remote.User, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[strings.ToLower(user.Email)] = fakeAccount{user: user, password: password}
}

// Fail makes op ("get_user", "sign_in", "sign_up", "sign_out") return err.
func (a *FakeAuth) Fail(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.fail, op)
		return
	}
	a.fail[op] = err
}

func (a *FakeAuth) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *FakeAuth) begin(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[op]++
	return a.fail[op]
}

func (a *FakeAuth) GetUser(ctx context.Context) (remote.User, error) {
	if err := a.begin("get_user"); err != nil {
		return remote.User{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return remote.User{}, remote.NotAuthenticated()
	}
	return a.users[strings.ToLower(a.current.User.Email)].user, nil
}

func (a *FakeAuth) GetSession(ctx context.Context) (*remote.Session, error) {
	if err := a.begin("get_session"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.Expired(a.now()) {
		return nil, nil
	}
	out := *a.current
	return &out, nil
}

func (a *FakeAuth) SignInWithPassword(ctx context.Context, creds remote.Credentials) (remote.Session, error) {
	if err := a.begin("sign_in"); err != nil {
		return remote.Session{}, err
	}
	a.mu.Lock()
	account, ok := a.users[strings.ToLower(creds.Email)]
	if !ok || account.password != creds.Password {
		a.mu.Unlock()
		return remote.Session{}, remote.InvalidCredentials()
	}
	session := remote.Session{
		AccessToken: uuid.NewString(),
		ExpiresAt:   a.now().Add(time.Hour),
		User:        account.user,
	}
	a.current = &session
	a.mu.Unlock()

	a.emit(remote.SignedIn, &session)
	return session, nil
}

func (a *FakeAuth) SignUp(ctx context.Context, creds remote.Credentials) (remote.User, error) {
	if err := a.begin("sign_up"); err != nil {
		return remote.User{}, err
	}
	user := remote.User{
		ID:          uuid.NewString(),
		Email:       strings.ToLower(creds.Email),
		DisplayName: creds.DisplayName,
		CreatedAt:   a.now(),
	}
	a.AddUser(user, creds.Password)
	return user, nil
}

func (a *FakeAuth) SignOut(ctx context.Context) error {
	if err := a.begin("sign_out"); err != nil {
		return err
	}
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
	a.emit(remote.SignedOut, nil)
	return nil
}

func (a *FakeAuth) OnAuthStateChange(fn remote.AuthListener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// Listeners reports how many listeners are subscribed.
func (a *FakeAuth) Listeners() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *FakeAuth) emit(event remote.AuthEvent, session *remote.Session) {
	a.mu.Lock()
	fns := make([]remote.AuthListener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

// FakeBucket is an in memory remote.Bucket.
type FakeBucket struct {
	mu      sync.Mutex
	name    string
	objects map[string]fakeObject
	fail    map[string]error
}

type fakeObject struct {
	meta remote.Object
	data []byte
}

var _ remote.Bucket = (*FakeBucket)(nil)

func NewFakeBucket(name string) *FakeBucket {
	return &FakeBucket{name: name, objects: map[string]fakeObject{}, fail: map[string]error{}}
}

// Fail makes op ("upload", "remove", "list") return err.
func (b *FakeBucket) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, op)
		return
	}
	b.fail[op] = err
}

// Data returns the stored bytes at path.
func (b *FakeBucket) Data(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	return obj.data, ok
}

func (b *FakeBucket) Upload(ctx context.Context, path string, data []byte, opts remote.UploadOptions) (remote.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail["upload"]; err != nil {
		return remote.Object{}, err
	}
	if _, exists := b.objects[path]; exists && !opts.Upsert {
		return remote.Object{}, remote.Reported(errors.New("object exists"), goerrors.CategoryConflict, b.name+" upload")
	}
	meta := remote.Object{Path: path, ContentType: opts.ContentType, Size: int64(len(data)), CreatedAt: time.Now()}
	b.objects[path] = fakeObject{meta: meta, data: append([]byte(nil), data...)}
	return meta, nil
}

func (b *FakeBucket) Remove(ctx context.Context, paths ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail["remove"]; err != nil {
		return err
	}
	for _, p := range paths {
		delete(b.objects, p)
	}
	return nil
}

func (b *FakeBucket) PublicURL(path string) string {
	return "https://cdn.test/" + b.name + "/" + path
}

func (b *FakeBucket) List(ctx context.Context, prefix string) ([]remote.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail["list"]; err != nil {
		return nil, err
	}
	out := []remote.Object{}
	for p, obj := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, obj.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FakeClient aggregates the fakes as a remote.Client.
type FakeClient struct {
	AuthFake *FakeAuth

	mu      sync.Mutex
	buckets map[string]*FakeBucket
	closed  bool
}

var _ remote.Client = (*FakeClient)(nil)

func NewFakeClient(now func() time.Time) *FakeClient {
	return &FakeClient{AuthFake: NewFakeAuth(now), buckets: map[string]*FakeBucket{}}
}

func (c *FakeClient) Auth() remote.Auth { return c.AuthFake }

// Bucket returns the fake bucket for name, creating it on first use.
func (c *FakeClient) Bucket(name string) remote.Bucket {
	return c.FakeBucket(name)
}

func (c *FakeClient) FakeBucket(name string) *FakeBucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[name]
	if !ok {
		b = NewFakeBucket(name)
		c.buckets[name] = b
	}
	return b
}

func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
