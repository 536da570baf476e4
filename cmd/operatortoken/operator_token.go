package operatortoken

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"tradefunnel/src/auth"
)

var ErrEmptyToken = errors.New("operator token is empty")

// OperatorToken turns a plain bearer token into the value for OPERATOR_TOKEN_HASH.
type OperatorToken struct {
	In  io.Reader
	Out io.Writer
}

// Start hashes token, or the first line of In when token is empty.
func (o *OperatorToken) Start(token string) error {
	if token == "" && o.In != nil {
		reader := bufio.NewScanner(o.In)
		reader.Buffer(make([]byte, 0, 1024), 1024*1024)
		if reader.Scan() {
			token = reader.Text()
		}
		if err := reader.Err(); err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(o.Out, "OPERATOR_TOKEN_HASH=%s\n", hash)
	return err
}
