package signer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"apiflow/pkg/auth"
	"apiflow/pkg/request"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scope = Scope{Service: "dynamodb", Region: "us-east-1"}

func newRequest(t *testing.T, body io.Reader) *http.Request {
	t.Helper()
	req, err := request.Build(context.Background(), "https://dynamodb.us-east-1.amazonaws.com", &request.Spec{
		Header: http.Header{"X-Amz-Target": {"DynamoDB_20120810.ListTables"}},
		Body:   body,
	})
	require.NoError(t, err)
	return req
}

func TestV4SignerOverwritesSignature(t *testing.T) {
	s := NewV4Signer(auth.NewStaticProvider("AKIDEXAMPLE", "secret", "token"))
	body := request.String(`{}`)
	req := newRequest(t, body)

	t0 := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Sign(context.Background(), req, body, scope, t0))
	first := req.Header.Get("Authorization")
	assert.Contains(t, first, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/us-east-1/dynamodb/aws4_request")
	assert.Equal(t, "20240102T030405Z", req.Header.Get("X-Amz-Date"))
	assert.Equal(t, "token", req.Header.Get("X-Amz-Security-Token"))

	require.NoError(t, s.Sign(context.Background(), req, body, scope, t0.Add(time.Minute)))
	assert.Len(t, req.Header.Values("Authorization"), 1)
	assert.Len(t, req.Header.Values("X-Amz-Date"), 1)
	assert.NotEqual(t, first, req.Header.Get("Authorization"))
	assert.Equal(t, "20240102T030505Z", req.Header.Get("X-Amz-Date"))
}

func TestV4SignerCredentialFailure(t *testing.T) {
	failing := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, errors.New("expired")
	})
	s := NewV4Signer(failing)
	req := newRequest(t, nil)

	err := s.Sign(context.Background(), req, nil, scope, time.Now())
	assert.ErrorContains(t, err, "expired")
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestPayloadHash(t *testing.T) {
	hash, err := PayloadHash(nil)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hash)

	hash, err = PayloadHash(request.String("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)

	seekable, err := request.Seekable(strings.NewReader("abc"))
	require.NoError(t, err)
	hash, err = PayloadHash(seekable)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
	rest, err := io.ReadAll(seekable)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(rest), "hashing must leave the body rewound")

	hash, err = PayloadHash(io.LimitReader(strings.NewReader("abc"), 3))
	require.NoError(t, err)
	assert.Equal(t, UnsignedPayload, hash)
}

func TestAnonymousClearsSignature(t *testing.T) {
	req := newRequest(t, nil)
	req.Header.Set("Authorization", "stale")
	req.Header.Set("X-Amz-Date", "stale")

	require.NoError(t, Anonymous{}.Sign(context.Background(), req, nil, scope, time.Now()))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("X-Amz-Date"))
	assert.Equal(t, "DynamoDB_20120810.ListTables", req.Header.Get("X-Amz-Target"))
}
