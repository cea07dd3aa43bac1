package stream

import (
	"errors"
	"testing"
)

func TestHashAPIKey(t *testing.T) {
	t.Parallel()

	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := HashAPIKey("test"); got != want {
		t.Errorf("HashAPIKey(test) = %q, want %q", got, want)
	}
}

func TestAuthenticator_Verify(t *testing.T) {
	t.Parallel()

	auth, err := NewAuthenticator(HashAPIKey("s3cret"))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	empty, err := NewAuthenticator("")
	if err != nil {
		t.Fatalf("NewAuthenticator(empty): %v", err)
	}

	tests := []struct {
		name    string
		auth    *Authenticator
		key     string
		wantErr bool
	}{
		{name: "correct key", auth: auth, key: "s3cret"},
		{name: "wrong key", auth: auth, key: "S3cret", wantErr: true},
		{name: "missing key", auth: auth, key: "", wantErr: true},
		{name: "no hash configured", auth: empty, key: "s3cret", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.auth.Verify(tc.key)
			if tc.wantErr && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Verify = %v, want ErrUnauthorized", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Verify = %v, want nil", err)
			}
		})
	}
}

func TestNewAuthenticator_RejectsMalformedHash(t *testing.T) {
	t.Parallel()

	for _, h := range []string{"zz", "abcd", HashAPIKey("x") + "00"} {
		if _, err := NewAuthenticator(h); err == nil {
			t.Errorf("NewAuthenticator(%q) = nil error", h)
		}
	}
}
