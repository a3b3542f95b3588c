package vault

import (
	"os"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/audioworks/voiceman/internal/testutil"
)

func TestMain(m *testing.M) {
	// In-memory keyring so tests never touch the real OS keychain.
	keyring.MockInit()
	os.Exit(m.Run())
}

func TestSetGetDelete_Roundtrip(t *testing.T) {
	v := New()

	if err := v.Set("kokoro", "sk-local"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get("kokoro")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-local" {
		t.Errorf("got %q, want sk-local", got)
	}

	if err := v.Delete("kokoro"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	os.Unsetenv("VOICEMAN_KEY_KOKORO")
	if _, err := v.Get("kokoro"); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestResolveKeyRef_EnvFormat(t *testing.T) {
	v := New()

	const envVar = "TEST_VOICEMAN_VAULT_KEY"
	const expected = "sk-test-1234"

	t.Setenv(envVar, expected)

	got, err := v.ResolveKeyRef("env:" + envVar)
	if err != nil {
		t.Fatalf("ResolveKeyRef(env:): %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestResolveKeyRef_EnvFormat_Unset(t *testing.T) {
	v := New()

	os.Unsetenv("NONEXISTENT_KEY_VAR")

	_, err := v.ResolveKeyRef("env:NONEXISTENT_KEY_VAR")
	if err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestResolveKeyRef_FileFormat(t *testing.T) {
	v := New()

	path := testutil.WriteFile(t, t.TempDir(), "key", "  sk-file-key\n")

	got, err := v.ResolveKeyRef("file://" + path)
	if err != nil {
		t.Fatalf("ResolveKeyRef(file://): %v", err)
	}
	if got != "sk-file-key" {
		t.Errorf("got %q, want trimmed key", got)
	}
}

func TestResolveKeyRef_FileFormat_Empty(t *testing.T) {
	v := New()

	path := testutil.WriteFile(t, t.TempDir(), "key", "  \n")

	if _, err := v.ResolveKeyRef("file://" + path); err == nil {
		t.Fatal("expected error for empty key file")
	}
}

func TestResolveKeyRef_InvalidFormat(t *testing.T) {
	v := New()

	if _, err := v.ResolveKeyRef("plaintext:secret"); err == nil {
		t.Fatal("expected error for invalid key ref format")
	}
}

func TestResolveKeyRef_KeyringBadFormat(t *testing.T) {
	v := New()

	if _, err := v.ResolveKeyRef("keyring://badformat"); err == nil {
		t.Fatal("expected error for malformed keyring ref")
	}
}

func TestResolveKeyRef_KeyringWrongService(t *testing.T) {
	v := New()

	if _, err := v.ResolveKeyRef("keyring://other-service/openai"); err == nil {
		t.Fatal("expected error for wrong service name")
	}
}

func TestGet_OpenAIEnvFallback(t *testing.T) {
	v := New()

	t.Setenv("VOICEMAN_KEY_OPENAI", "")
	t.Setenv("OPENAI_API_KEY", "sk-ambient")

	got, err := v.Get("openai")
	if err != nil {
		t.Fatalf("Get(openai): %v", err)
	}
	if got != "sk-ambient" {
		t.Errorf("got %q, want OPENAI_API_KEY fallback", got)
	}
}

func TestPresent(t *testing.T) {
	v := New()

	t.Setenv("TEST_VOICEMAN_PRESENT", "sk-x")
	if !v.Present("env:TEST_VOICEMAN_PRESENT") {
		t.Error("expected credential to be present")
	}

	os.Unsetenv("TEST_VOICEMAN_ABSENT")
	if v.Present("env:TEST_VOICEMAN_ABSENT") {
		t.Error("expected credential to be absent")
	}
	if v.Present("garbage-ref") {
		t.Error("unparseable ref must count as absent")
	}
}
