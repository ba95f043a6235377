package domainkey

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.pl", "example.pl"},
		{"WWW.Example.PL", "example.pl"},
		{"  www.ikea.pl\n", "ikea.pl"},
		{"Ikea.PL", "ikea.pl"},
		{"www.www.shop.com", "www.shop.com"},
		{"shop.www.com", "shop.www.com"},
		{"", ""},
		{"   ", ""},
		{"www.", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"WWW.Example.PL", "www.www.a.b", " Foo.COM ", "", "www.", "x"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalize_SpellingsCollide(t *testing.T) {
	if Normalize("WWW.Example.PL") != Normalize("example.pl") {
		t.Fatal("spellings of the same host must share a key")
	}
}

func TestVariants(t *testing.T) {
	got := Variants("WWW.Ikea.pl")
	if len(got) != 2 || got[0] != "ikea.pl" || got[1] != "www.ikea.pl" {
		t.Fatalf("Variants = %v", got)
	}
	if v := Variants("  "); v != nil {
		t.Fatalf("Variants(blank) = %v, want nil", v)
	}
}
