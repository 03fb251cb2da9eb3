// Package testutil holds in-memory fakes of the outbound ports for service and
// handler tests.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
)

// ErrUnauthorized is what FakeMail returns for a token it does not accept.
var ErrUnauthorized = &out.ProviderError{
	Provider:   "gmail",
	Code:       out.ProviderErrTokenExpired,
	Message:    "token expired or invalid",
	StatusCode: http.StatusUnauthorized,
}

// =============================================================================
// Credentials
// =============================================================================

// MemoryCredentials is a map-backed out.CredentialRepository that counts writes.
type MemoryCredentials struct {
	mu      sync.Mutex
	byEmail map[string]domain.Credential

	Lookups atomic.Int32
	Writes  atomic.Int32
	Err     error
}

func NewMemoryCredentials(creds ...*domain.Credential) *MemoryCredentials {
	m := &MemoryCredentials{byEmail: make(map[string]domain.Credential)}
	for _, c := range creds {
		m.byEmail[c.Email] = *c
	}
	return m
}

func (m *MemoryCredentials) GetByEmail(_ context.Context, email string) (*domain.Credential, error) {
	m.Lookups.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryCredentials) Upsert(_ context.Context, cred *domain.Credential) error {
	if m.Err != nil {
		return m.Err
	}
	m.Writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	if existing, ok := m.byEmail[c.Email]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = time.Now()
	}
	m.byEmail[c.Email] = c
	return nil
}

func (m *MemoryCredentials) UpdateTokens(_ context.Context, email, accessToken, refreshToken string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[email]
	if !ok {
		return out.ErrCredentialNotFound
	}
	m.Writes.Add(1)
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	c.UpdatedAt = time.Now()
	m.byEmail[email] = c
	return nil
}

func (m *MemoryCredentials) Delete(_ context.Context, email string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byEmail, email)
	return nil
}

func (m *MemoryCredentials) ListAll(_ context.Context) ([]*domain.Credential, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*domain.Credential, 0, len(m.byEmail))
	for _, c := range m.byEmail {
		c := c
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	return all, nil
}

// Stored returns a copy of the record for email.
func (m *MemoryCredentials) Stored(email string) (domain.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byEmail[email]
	return c, ok
}

// =============================================================================
// OAuth
// =============================================================================

// FakeTokens answers refresh exchanges with a fixed token or error.
type FakeTokens struct {
	Token *oauth2.Token
	Err   error

	Calls atomic.Int32

	mu   sync.Mutex
	Seen []string // refresh tokens presented
}

func (f *FakeTokens) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.Calls.Add(1)
	f.mu.Lock()
	f.Seen = append(f.Seen, refreshToken)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	t := *f.Token
	return &t, nil
}

// FakeOAuth is a FakeTokens that also signs users in.
type FakeOAuth struct {
	FakeTokens
	Exchanged  *oauth2.Token
	ExchangeEr error
	Profile    *domain.Profile
}

func (f *FakeOAuth) AuthURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (f *FakeOAuth) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.ExchangeEr != nil {
		return nil, f.ExchangeEr
	}
	if code == "" {
		return nil, errors.New("empty code")
	}
	return f.Exchanged, nil
}

func (f *FakeOAuth) UserInfo(_ context.Context, _ string) (*domain.Profile, error) {
	return f.Profile, nil
}

// =============================================================================
// Gmail
// =============================================================================

// FakeMail is an out.MailProvider that accepts exactly one access token.
type FakeMail struct {
	ValidToken string

	Messages   map[string]*domain.MessageSummary
	Drafts     map[string]*domain.Draft
	ListResult *domain.MessageList
	FailGet    map[string]error
	ListErr    error
	SendErr    error
	WatchErr   error

	ListCalls   atomic.Int32
	GetCalls    atomic.Int32
	SendCalls   atomic.Int32
	WatchCalls  atomic.Int32
	ModifyCalls atomic.Int32
	DraftCalls  atomic.Int32

	mu        sync.Mutex
	LastQuery *domain.ListQuery
	LastSent  *domain.OutgoingMessage
	LastWatch *domain.WatchRequest
	Modified  []string // "star:id", "trash:id", ...
}

func NewFakeMail(validToken string) *FakeMail {
	return &FakeMail{
		ValidToken: validToken,
		Messages:   make(map[string]*domain.MessageSummary),
		Drafts:     make(map[string]*domain.Draft),
		FailGet:    make(map[string]error),
	}
}

// TotalCalls counts every Gmail request made.
func (f *FakeMail) TotalCalls() int32 {
	return f.ListCalls.Load() + f.GetCalls.Load() + f.SendCalls.Load() + f.WatchCalls.Load() + f.ModifyCalls.Load() + f.DraftCalls.Load()
}

func (f *FakeMail) authorize(token string) error {
	if token != f.ValidToken {
		return ErrUnauthorized
	}
	return nil
}

func (f *FakeMail) ListMessages(_ context.Context, token string, q *domain.ListQuery) (*domain.MessageList, error) {
	f.ListCalls.Add(1)
	f.mu.Lock()
	f.LastQuery = q
	f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.ListResult != nil {
		return f.ListResult, nil
	}
	list := &domain.MessageList{}
	ids := make([]string, 0, len(f.Messages))
	for id := range f.Messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		list.Messages = append(list.Messages, domain.MessageRef{ID: id, ThreadID: f.Messages[id].ThreadID})
	}
	return list, nil
}

func (f *FakeMail) GetMessage(_ context.Context, token, id string) (*domain.MessageSummary, error) {
	f.GetCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	if err, ok := f.FailGet[id]; ok {
		return nil, err
	}
	msg, ok := f.Messages[id]
	if !ok {
		return nil, &out.ProviderError{Provider: "gmail", Code: out.ProviderErrNotFound, Message: "message not found", StatusCode: http.StatusNotFound}
	}
	m := *msg
	return &m, nil
}

func (f *FakeMail) GetThread(ctx context.Context, token, threadID string) (*domain.Thread, error) {
	f.GetCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	thread := &domain.Thread{ID: threadID}
	ids := make([]string, 0)
	for id, m := range f.Messages {
		if m.ThreadID == threadID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := *f.Messages[id]
		thread.Messages = append(thread.Messages, &m)
	}
	if len(thread.Messages) == 0 {
		return nil, &out.ProviderError{Provider: "gmail", Code: out.ProviderErrNotFound, Message: "thread not found", StatusCode: http.StatusNotFound}
	}
	return thread, nil
}

func (f *FakeMail) GetAttachment(_ context.Context, token, messageID, attachmentID string) (*domain.AttachmentData, error) {
	f.GetCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	data := []byte(messageID + "/" + attachmentID)
	return &domain.AttachmentData{Data: data, Size: int64(len(data))}, nil
}

func (f *FakeMail) Send(_ context.Context, token string, msg *domain.OutgoingMessage) (*domain.SendResult, error) {
	f.SendCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	f.mu.Lock()
	f.LastSent = msg
	f.mu.Unlock()
	return &domain.SendResult{ID: "sent-1", ThreadID: msg.ThreadID}, nil
}

func (f *FakeMail) modify(token, op, id string) error {
	f.ModifyCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return err
	}
	f.mu.Lock()
	f.Modified = append(f.Modified, op+":"+id)
	f.mu.Unlock()
	return nil
}

func (f *FakeMail) SetStarred(_ context.Context, token, id string, starred bool) error {
	if starred {
		return f.modify(token, "star", id)
	}
	return f.modify(token, "unstar", id)
}

func (f *FakeMail) Trash(_ context.Context, token, id string) error {
	return f.modify(token, "trash", id)
}

func (f *FakeMail) Untrash(_ context.Context, token, id string) error {
	return f.modify(token, "untrash", id)
}

func (f *FakeMail) Delete(_ context.Context, token, id string) error {
	return f.modify(token, "delete", id)
}

func (f *FakeMail) ListDrafts(_ context.Context, token string, maxResults int64) ([]string, error) {
	f.DraftCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.Drafts))
	for id := range f.Drafts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if maxResults > 0 && int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

func (f *FakeMail) GetDraft(_ context.Context, token, id string) (*domain.Draft, error) {
	f.DraftCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Drafts[id]
	if !ok {
		return nil, &out.ProviderError{Provider: "gmail", Code: out.ProviderErrNotFound, Message: "draft not found", StatusCode: http.StatusNotFound}
	}
	c := *d
	return &c, nil
}

func (f *FakeMail) DeleteDraft(_ context.Context, token, id string) error {
	f.DraftCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Drafts[id]; !ok {
		return &out.ProviderError{Provider: "gmail", Code: out.ProviderErrNotFound, Message: "draft not found", StatusCode: http.StatusNotFound}
	}
	delete(f.Drafts, id)
	return nil
}

func (f *FakeMail) SendDraft(_ context.Context, token, id string) (*domain.SendResult, error) {
	f.DraftCalls.Add(1)
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Drafts[id]; !ok {
		return nil, &out.ProviderError{Provider: "gmail", Code: out.ProviderErrNotFound, Message: "draft not found", StatusCode: http.StatusNotFound}
	}
	delete(f.Drafts, id)
	return &domain.SendResult{ID: "sent-" + id, ThreadID: "thread-" + id}, nil
}

func (f *FakeMail) Watch(_ context.Context, token string, req *domain.WatchRequest) (*domain.WatchResult, error) {
	f.WatchCalls.Add(1)
	f.mu.Lock()
	f.LastWatch = req
	f.mu.Unlock()
	if err := f.authorize(token); err != nil {
		return nil, err
	}
	if f.WatchErr != nil {
		return nil, f.WatchErr
	}
	return &domain.WatchResult{HistoryID: 12345, ExpirationMs: 1700000000000}, nil
}

// =============================================================================
// LLM
// =============================================================================

// FakeLLM replies with Reply unless a Replies key matches the last user message.
type FakeLLM struct {
	Reply   string
	Replies map[string]string // keyed by a substring of the last user message
	Err     error

	Calls atomic.Int32

	mu   sync.Mutex
	Last *out.CompletionRequest
}

func (f *FakeLLM) Complete(_ context.Context, req *out.CompletionRequest) (string, error) {
	f.Calls.Add(1)
	f.mu.Lock()
	f.Last = req
	f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Replies) > 0 && len(req.Messages) > 0 {
		last := req.Messages[len(req.Messages)-1].Content
		for key, reply := range f.Replies {
			if containsFold(last, key) {
				return reply, nil
			}
		}
	}
	return f.Reply, nil
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
