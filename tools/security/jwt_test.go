package security

import (
	"testing"
	"time"

	"PPChatSync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerify(t *testing.T) {
	opts := DefaultOptions([]byte("k1"))
	tok, exp, err := Issue(opts, "alice")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	c, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.UserID)

	_, err = Verify(DefaultOptions([]byte("other")), tok)
	assert.Equal(t, errs.NoSessionError, errs.CodeOf(err))

	_, err = Verify(opts, "")
	assert.Equal(t, errs.NoSessionError, errs.CodeOf(err))
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("k1"))
	opts.TTL = time.Millisecond
	tok, _, err := Issue(opts, "alice")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = Verify(opts, tok)
	assert.Equal(t, errs.NoSessionError, errs.CodeOf(err))
}

func TestIssueRejects(t *testing.T) {
	_, _, err := Issue(DefaultOptions([]byte("k")), "")
	assert.Equal(t, errs.ArgsError, errs.CodeOf(err))

	opts := DefaultOptions([]byte("k"))
	opts.Alg = "RS256"
	_, _, err = Issue(opts, "a")
	assert.Equal(t, errs.ArgsError, errs.CodeOf(err))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "abc", BearerToken("abc"))
}
