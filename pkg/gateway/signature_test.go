package gateway

import "testing"

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"id":"inv_1","status":"PAID"}`)
	sig := Sign(body, "whsec")

	if len(sig) != 64 {
		t.Fatalf("expected hex sha256, got %q", sig)
	}
	if !VerifySignature(body, "whsec", sig) {
		t.Fatalf("expected signature to verify")
	}
	if !VerifySignature(body, "whsec", "  "+sig+" ") {
		t.Fatalf("surrounding whitespace should be ignored")
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"id":"inv_1","status":"PAID"}`)
	sig := Sign(body, "whsec")

	cases := map[string]struct {
		body   []byte
		secret string
		header string
	}{
		"tampered body": {[]byte(`{"id":"inv_1","status":"EXPIRED"}`), "whsec", sig},
		"wrong secret":  {body, "other", sig},
		"empty header":  {body, "whsec", ""},
		"empty secret":  {body, "", Sign(body, "")},
		"not hex":       {body, "whsec", "zz"},
	}
	for name, tc := range cases {
		if VerifySignature(tc.body, tc.secret, tc.header) {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}
