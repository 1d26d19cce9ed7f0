package secrets

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func useArrayKeyring(t *testing.T) *keyring.ArrayKeyring {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	orig := openKeyringFunc
	openKeyringFunc = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyringFunc = orig })
	return ring
}

func TestTokenRoundTrip(t *testing.T) {
	useArrayKeyring(t)

	if err := SetToken(" Owner@Example.com ", "tok-123"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	got, err := GetToken("owner@example.com")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got != "tok-123" {
		t.Fatalf("token = %q, want tok-123", got)
	}

	if err := DeleteToken("owner@example.com"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, err := GetToken("owner@example.com"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound after delete, got %v", err)
	}
}

func TestSetTokenValidation(t *testing.T) {
	useArrayKeyring(t)

	if err := SetToken("", "tok"); !errors.Is(err, errMissingAccount) {
		t.Errorf("empty email: got %v", err)
	}
	if err := SetToken("owner@example.com", ""); !errors.Is(err, errMissingValue) {
		t.Errorf("empty token: got %v", err)
	}
}

func TestIMAPPasswordRoundTrip(t *testing.T) {
	useArrayKeyring(t)

	if err := SetIMAPPassword("user", "pw"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	got, err := GetIMAPPassword("USER")
	if err != nil {
		t.Fatalf("get password: %v", err)
	}
	if got != "pw" {
		t.Fatalf("password = %q, want pw", got)
	}
}

func TestAllowedBackends(t *testing.T) {
	tests := []struct {
		value   string
		want    []keyring.BackendType
		wantErr bool
	}{
		{value: "auto"},
		{value: ""},
		{value: "file", want: []keyring.BackendType{keyring.FileBackend}},
		{value: "keychain", want: []keyring.BackendType{keyring.KeychainBackend}},
		{value: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		got, err := allowedBackends(KeyringBackendInfo{Value: tt.value})
		if (err != nil) != tt.wantErr {
			t.Errorf("allowedBackends(%q) err = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("allowedBackends(%q) = %v, want %v", tt.value, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("allowedBackends(%q)[%d] = %v, want %v", tt.value, i, got[i], tt.want[i])
			}
		}
	}
}

func TestShouldForceFileBackend(t *testing.T) {
	auto := KeyringBackendInfo{Value: keyringBackendAuto}
	if !shouldForceFileBackend("linux", auto, "") {
		t.Error("expected file backend on headless linux")
	}
	if shouldForceFileBackend("linux", auto, "unix:path=/run/bus") {
		t.Error("did not expect file backend with a D-Bus session")
	}
	if shouldForceFileBackend("darwin", auto, "") {
		t.Error("did not expect file backend on darwin")
	}
	if !shouldUseKeyringTimeout("linux", auto, "unix:path=/run/bus") {
		t.Error("expected open timeout with a D-Bus session")
	}
}

func TestFileKeyringPasswordFuncWithoutTTY(t *testing.T) {
	prompt := fileKeyringPasswordFuncFrom("", false, false)
	if _, err := prompt("passphrase"); !errors.Is(err, errNoTTY) {
		t.Fatalf("expected errNoTTY, got %v", err)
	}

	fixed := fileKeyringPasswordFuncFrom("", true, false)
	got, err := fixed("passphrase")
	if err != nil || got != "" {
		t.Fatalf("expected empty fixed passphrase, got %q, %v", got, err)
	}
}

func TestResolveKeyringBackendFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(keyringBackendEnv, " FILE ")

	info, err := ResolveKeyringBackendInfo()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if info.Value != "file" || info.Source != keyringBackendSourceEnv {
		t.Fatalf("got %+v", info)
	}
}
