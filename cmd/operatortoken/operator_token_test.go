package operatortoken

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashFrom(t *testing.T, out string) string {
	t.Helper()
	line := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(line, "OPERATOR_TOKEN_HASH="), line)
	return strings.TrimPrefix(line, "OPERATOR_TOKEN_HASH=")
}

func TestStartHashesArgument(t *testing.T) {
	var out bytes.Buffer
	cmd := &OperatorToken{Out: &out}

	require.NoError(t, cmd.Start("s3cret"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashFrom(t, out.String())), []byte("s3cret")))
}

func TestStartReadsStdin(t *testing.T) {
	var out bytes.Buffer
	cmd := &OperatorToken{In: strings.NewReader("  from-stdin \nignored\n"), Out: &out}

	require.NoError(t, cmd.Start(""))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashFrom(t, out.String())), []byte("from-stdin")))
}

func TestStartRejectsEmptyToken(t *testing.T) {
	var out bytes.Buffer
	cmd := &OperatorToken{In: strings.NewReader("\n"), Out: &out}

	assert.ErrorIs(t, cmd.Start(""), ErrEmptyToken)
	assert.Empty(t, out.String())
}
