package secure

import (
	"encoding/json"
	"reflect"
	"testing"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
)

func mustKeyPair(t *testing.T) KeyPair {
	t.Helper()
	pair, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return pair
}

func TestSealOpenRoundTrip(t *testing.T) {
	pair := mustKeyPair(t)
	value := map[string]any{"member": "Ana", "calling": "Clerk"}

	sealed, err := Seal(value, pair.PublicKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed.Ciphertext == "" || sealed.KeyID == "" {
		t.Fatalf("sealed = %+v, want ciphertext and key id", sealed)
	}

	opened, err := Open(sealed, pair.PrivateKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !reflect.DeepEqual(opened, value) {
		t.Fatalf("opened = %#v, want %#v", opened, value)
	}
}

func TestOpenFromDecodedJSON(t *testing.T) {
	pair := mustKeyPair(t)
	sealed, err := Seal("secret", pair.PublicKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	data, err := json.Marshal(sealed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for name, stored := range map[string]any{"map": decoded, "text": string(data), "pointer": &sealed} {
		opened, err := Open(stored, pair.PrivateKey)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if opened != "secret" {
			t.Fatalf("opened %s = %v, want secret", name, opened)
		}
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	owner := mustKeyPair(t)
	other := mustKeyPair(t)
	sealed, err := Seal(42, owner.PublicKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := Open(sealed, other.PrivateKey); !apperrors.HasCode(err, apperrors.CodeDecryptFailed) {
		t.Fatalf("err = %v, want decrypt failed", err)
	}

	sealed.KeyID = ""
	if _, err := Open(sealed, other.PrivateKey); !apperrors.HasCode(err, apperrors.CodeDecryptFailed) {
		t.Fatalf("err without key id = %v, want decrypt failed", err)
	}
}

func TestOpenRejectsPlaintext(t *testing.T) {
	pair := mustKeyPair(t)
	if _, err := Open("just text", pair.PrivateKey); !apperrors.HasCode(err, apperrors.CodeDecryptFailed) {
		t.Fatalf("err = %v, want decrypt failed", err)
	}
}

func TestSealRejectsBadKeys(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"short":      "AAAA",
	}
	for name, key := range cases {
		if _, err := Seal(1, key); !apperrors.HasCode(err, apperrors.CodeEncryptFailed) {
			t.Fatalf("%s: err = %v, want encrypt failed", name, err)
		}
	}
}
