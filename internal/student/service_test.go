package student

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/apperr"
	"faceattend/internal/auth"
)

func newTestService(t *testing.T) (*Service, *MemoryRepository, *auth.Tokens) {
	t.Helper()
	repo := NewMemoryRepository()
	tokens := auth.NewTokens("test-secret", 0)
	return NewService(repo, auth.Bcrypt{Cost: 4}, tokens, nil), repo, tokens
}

func register(t *testing.T, svc *Service, id, pw string) {
	t.Helper()
	require.NoError(t, svc.Register(context.Background(), Registration{
		StudentID: id, Name: "Name " + id, Email: id + "@school.test", Password: pw,
	}))
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _, tokens := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")

	sess, err := svc.Login(ctx, "S1", "pw1")
	require.NoError(t, err)
	id, err := tokens.Verify(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "S1", id)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Register(context.Background(), Registration{StudentID: "S1", Name: " ", Email: "a@b", Password: "x"})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestRegisterDuplicateKeepsFirst(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")
	before, _ := repo.Get(ctx, "S1")

	err := svc.Register(ctx, Registration{StudentID: "S1", Name: "Other", Email: "o@x", Password: "pw2"})
	assert.Equal(t, 409, apperr.As(err).Status())

	after, _ := repo.Get(ctx, "S1")
	assert.Equal(t, before, after)
	_, err = svc.Login(ctx, "S1", "pw2")
	assert.True(t, apperr.HasCode(err, apperr.CodeBadCredentials))
}

func TestConcurrentRegisterOneWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Register(context.Background(), Registration{StudentID: "S1", Name: "n", Email: "e", Password: "p"})
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, apperr.HasCode(err, apperr.CodeExists))
		}
	}
	assert.Equal(t, 1, ok)
}

func TestLoginFailures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")

	_, err := svc.Login(ctx, "S9", "pw1")
	assert.Equal(t, 404, apperr.As(err).Status())

	_, err = svc.Login(ctx, "S1", "nope")
	assert.Equal(t, 401, apperr.As(err).Status())

	_, err = svc.Login(ctx, "", "pw1")
	assert.Equal(t, 400, apperr.As(err).Status())
}

func TestProfileHidesSecrets(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")
	_, err := repo.SetFaceReference(ctx, "S1", "data:image/png;base64,AAAA")
	require.NoError(t, err)

	p, err := svc.Profile(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, Profile{StudentID: "S1", Name: "Name S1", Email: "S1@school.test"}, p)

	_, err = svc.Profile(ctx, "S9")
	assert.Equal(t, 404, apperr.As(err).Status())
}

func TestUpdateProfileAllowList(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")
	before, _ := repo.Get(ctx, "S1")

	err := svc.UpdateProfile(ctx, "S1", map[string]interface{}{
		"section":      "CSE-A",
		"passwordHash": "pwned",
		"studentId":    "S2",
	})
	require.NoError(t, err)

	after, _ := repo.Get(ctx, "S1")
	assert.Equal(t, "CSE-A", after.Section)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, "S1", after.StudentID)

	err = svc.UpdateProfile(ctx, "S1", map[string]interface{}{"faceReference": "x"})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	err = svc.UpdateProfile(ctx, "S1", map[string]interface{}{"name": 42})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	err = svc.UpdateProfile(ctx, "S9", map[string]interface{}{"name": "x"})
	assert.Equal(t, 404, apperr.As(err).Status())
}

func TestChangePassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")
	before, _ := repo.Get(ctx, "S1")

	err := svc.ChangePassword(ctx, "S1", "wrong", "pw2")
	assert.Equal(t, 401, apperr.As(err).Status())
	unchanged, _ := repo.Get(ctx, "S1")
	assert.Equal(t, before.PasswordHash, unchanged.PasswordHash)

	require.NoError(t, svc.ChangePassword(ctx, "S1", "pw1", "pw2"))
	_, err = svc.Login(ctx, "S1", "pw2")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "S1", "pw1")
	assert.Error(t, err)

	err = svc.ChangePassword(ctx, "S9", "a", "b")
	assert.Equal(t, 404, apperr.As(err).Status())

	err = svc.ChangePassword(ctx, "S1", "", "b")
	assert.Equal(t, 400, apperr.As(err).Status())
}

func TestHasFaceData(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")

	has, err := svc.HasFaceData(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, has)

	_, _ = repo.SetFaceReference(ctx, "S1", "ref")
	has, err = svc.HasFaceData(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = svc.HasFaceData(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLoginTrimsStudentID(t *testing.T) {
	svc, _, tokens := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")

	for _, id := range []string{"S1", " S1 ", "S1\t"} {
		sess, err := svc.Login(ctx, id, "pw1")
		require.NoError(t, err, "%q", id)
		got, err := tokens.Verify(sess.Token)
		require.NoError(t, err)
		assert.Equal(t, "S1", got)
	}
}

func TestUpdateProfileNullSectionClears(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "S1", "pw1")
	require.NoError(t, svc.UpdateProfile(ctx, "S1", map[string]interface{}{"section": "CSE-A"}))

	require.NoError(t, svc.UpdateProfile(ctx, "S1", map[string]interface{}{"section": nil}))
	st, _ := repo.Get(ctx, "S1")
	assert.Empty(t, st.Section)
	p, err := svc.Profile(ctx, "S1")
	require.NoError(t, err)
	assert.Nil(t, p.Section)

	// only section is nullable
	err = svc.UpdateProfile(ctx, "S1", map[string]interface{}{"name": nil})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}
