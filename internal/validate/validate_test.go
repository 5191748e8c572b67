package validate

import (
	"testing"

	"ikasa/internal/session"
)

func TestPhone(t *testing.T) {
	v := New()
	if errs := v.Phone("+14155552671"); !errs.Empty() {
		t.Fatalf("expected valid phone, got %v", errs)
	}
	for _, bad := range []string{"4155552671", "+0123", "+1", "", "+1415555267100000", "+1 415 555"} {
		errs := v.Phone(bad)
		if errs["phone"] != MsgPhone {
			t.Fatalf("phone %q: expected field error, got %v", bad, errs)
		}
	}
}

func TestCredentials(t *testing.T) {
	v := New()
	if errs := v.Credentials("user@example.com", "secret1"); !errs.Empty() {
		t.Fatalf("expected valid credentials, got %v", errs)
	}
	errs := v.Credentials("not-an-email", "12345")
	if errs["email"] != MsgEmail || errs["password"] != MsgPassword {
		t.Fatalf("unexpected errors %v", errs)
	}
	if errs := v.Credentials("", ""); len(errs) != 2 {
		t.Fatalf("expected two field errors, got %v", errs)
	}
}

func TestOTPIsPresenceChecked(t *testing.T) {
	v := New()
	if errs := v.OTP("+14155552671", "abc"); !errs.Empty() {
		t.Fatalf("any non-empty code should pass, got %v", errs)
	}
	if errs := v.OTP("+14155552671", "   "); errs["otp"] != MsgOTP {
		t.Fatalf("blank code should fail, got %v", errs)
	}
}

func TestProfile(t *testing.T) {
	v := New()
	ok := session.Profile{Name: "Jo", Gender: session.GenderOther, PreferredGender: session.PreferAny}
	if errs := v.Profile(ok); !errs.Empty() {
		t.Fatalf("expected valid profile, got %v", errs)
	}
	errs := v.Profile(session.Profile{Name: " é ", Gender: "robot", PreferredGender: ""})
	if errs["name"] != MsgName || errs["gender"] != MsgGender || errs["preferredGender"] != MsgPreferred {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestStyle(t *testing.T) {
	if errs := Style(session.StyleAnime); errs != nil {
		t.Fatalf("anime should be valid")
	}
	if errs := Style(session.StyleUnset); errs["style"] == "" {
		t.Fatalf("unset style should fail")
	}
}
