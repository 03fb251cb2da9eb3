package mail

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"inbox_server/core/domain"
	"inbox_server/core/service/auth"
	"inbox_server/internal/testutil"
	"inbox_server/pkg/apperr"
)

type fixture struct {
	svc    *Service
	mail   *testutil.FakeMail
	tokens *testutil.FakeTokens
	store  *testutil.MemoryCredentials
	cred   *domain.Credential
}

func newFixture(t *testing.T, sessionToken string) *fixture {
	t.Helper()
	mail := testutil.NewFakeMail("fresh")
	mail.Messages["a"] = &domain.MessageSummary{ID: "a", ThreadID: "t1", Subject: "first"}
	mail.Messages["b"] = &domain.MessageSummary{ID: "b", ThreadID: "t1", Subject: "second"}
	mail.Messages["c"] = &domain.MessageSummary{ID: "c", ThreadID: "t2", Subject: "third"}

	store := testutil.NewMemoryCredentials(&domain.Credential{Email: "user@example.com", AccessToken: sessionToken, RefreshToken: "refresh-1"})
	tokens := &testutil.FakeTokens{Token: &oauth2.Token{AccessToken: "fresh"}}
	return &fixture{
		svc:    NewService(mail, auth.NewRefresher(tokens, store)),
		mail:   mail,
		tokens: tokens,
		store:  store,
		cred:   &domain.Credential{Email: "user@example.com", AccessToken: sessionToken, RefreshToken: "refresh-1"},
	}
}

func TestListDefaultsToInbox(t *testing.T) {
	f := newFixture(t, "fresh")

	res, err := f.svc.List(context.Background(), f.cred, ListOptions{})
	require.NoError(t, err)

	require.Len(t, res.Emails, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Emails[0].ID, res.Emails[1].ID, res.Emails[2].ID})
	assert.Equal(t, []string{"INBOX"}, f.mail.LastQuery.LabelIDs)
	assert.Equal(t, int64(20), f.mail.LastQuery.MaxResults)
	assert.Zero(t, f.tokens.Calls.Load())
}

func TestListWithQueryDropsLabel(t *testing.T) {
	f := newFixture(t, "fresh")

	_, err := f.svc.List(context.Background(), f.cred, ListOptions{Query: "from:boss", MaxResults: 500, Folder: "sent"})
	require.NoError(t, err)

	assert.Nil(t, f.mail.LastQuery.LabelIDs)
	assert.Equal(t, "from:boss", f.mail.LastQuery.Query)
	assert.Equal(t, int64(100), f.mail.LastQuery.MaxResults)
}

func TestListSentFolder(t *testing.T) {
	f := newFixture(t, "fresh")

	_, err := f.svc.List(context.Background(), f.cred, ListOptions{Folder: "sent"})
	require.NoError(t, err)
	assert.Equal(t, []string{"SENT"}, f.mail.LastQuery.LabelIDs)
}

func TestExpiredSessionRefreshesOnce(t *testing.T) {
	f := newFixture(t, "stale")

	thread, err := f.svc.Thread(context.Background(), f.cred, "t1")
	require.NoError(t, err)

	assert.Len(t, thread.Messages, 2)
	assert.Equal(t, int32(1), f.tokens.Calls.Load())
	assert.Equal(t, int32(1), f.store.Writes.Load())
	assert.Equal(t, int32(2), f.mail.GetCalls.Load())
	assert.Equal(t, "fresh", f.cred.AccessToken)
}

func TestContentsCapsIDsAndKeepsOrder(t *testing.T) {
	f := newFixture(t, "fresh")
	ids := []string{"c", "a"}
	for i := 0; i < 40; i++ {
		ids = append(ids, "b")
	}

	got, err := f.svc.Contents(context.Background(), f.cred, ids)
	require.NoError(t, err)

	require.Len(t, got, 30)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	_, err = f.svc.Contents(context.Background(), f.cred, nil)
	assert.Equal(t, http.StatusBadRequest, apperr.GetHTTPStatus(err))
}

func TestGetMissingMessagePropagatesNotFound(t *testing.T) {
	f := newFixture(t, "fresh")

	_, err := f.svc.Get(context.Background(), f.cred, "nope")
	require.Error(t, err)
	assert.False(t, apperr.IsAuthentication(err))
}

func TestSendValidatesAndSetsFrom(t *testing.T) {
	f := newFixture(t, "fresh")
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.cred, &domain.OutgoingMessage{To: []string{"x@example.com"}, Subject: "hi"})
	assert.Equal(t, http.StatusBadRequest, apperr.GetHTTPStatus(err))
	assert.Zero(t, f.mail.SendCalls.Load())

	res, err := f.svc.Send(ctx, f.cred, &domain.OutgoingMessage{To: []string{"x@example.com"}, Subject: "hi", Body: "<p>hello</p>"})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", res.ID)
	assert.Equal(t, "user@example.com", f.mail.LastSent.From)
}

func TestDeleteActions(t *testing.T) {
	tests := []struct {
		action   domain.DeleteAction
		want     string
		wantCode int
	}{
		{action: "", want: "trash:a"},
		{action: domain.DeleteActionTrash, want: "trash:a"},
		{action: domain.DeleteActionRestore, want: "untrash:a"},
		{action: domain.DeleteActionPermanent, want: "delete:a"},
		{action: "archive", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			f := newFixture(t, "fresh")
			err := f.svc.Delete(context.Background(), f.cred, "a", tt.action)
			if tt.wantCode != 0 {
				assert.Equal(t, tt.wantCode, apperr.GetHTTPStatus(err))
				assert.Empty(t, f.mail.Modified)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, f.mail.Modified)
		})
	}
}

func TestStar(t *testing.T) {
	f := newFixture(t, "fresh")

	require.NoError(t, f.svc.Star(context.Background(), f.cred, "a", true))
	require.NoError(t, f.svc.Star(context.Background(), f.cred, "a", false))
	assert.Equal(t, []string{"star:a", "unstar:a"}, f.mail.Modified)

	err := f.svc.Star(context.Background(), f.cred, "", true)
	assert.Equal(t, http.StatusBadRequest, apperr.GetHTTPStatus(err))
}

func TestUnconfiguredProvider(t *testing.T) {
	svc := NewService(nil, nil)
	_, err := svc.Get(context.Background(), &domain.Credential{AccessToken: "x"}, "a")
	assert.Equal(t, apperr.CodeConfigError, apperr.AsAppError(err).Code)
}
