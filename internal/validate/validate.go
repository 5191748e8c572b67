package validate

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"ikasa/internal/session"
)

const (
	MsgEmail       = "Please enter a valid email address"
	MsgPassword    = "Password must be at least 6 characters"
	MsgPhone       = "Please enter a valid phone number with country code"
	MsgOTP         = "Please enter the code we sent you"
	MsgName        = "Name must be at least 2 characters"
	MsgGender      = "Please choose your gender"
	MsgPreferred   = "Please choose who you would like to meet"
	MsgStyle       = "Please choose a style"
	MsgRequired    = "This field is required"
	minNameRunes   = 2
	minPasswordLen = 6
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// FieldErrors maps a form field to the message shown next to it.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, "; ")
}

func (f FieldErrors) Empty() bool {
	return len(f) == 0
}

type Credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

type PhoneLogin struct {
	Phone string `validate:"required,phone"`
}

type OTPVerify struct {
	Phone string `validate:"required,phone"`
	Code  string `validate:"required"`
}

type ProfileForm struct {
	Name            string `validate:"displayname"`
	Gender          string `validate:"required,oneof=male female other"`
	PreferredGender string `validate:"required,oneof=male female any"`
}

var fieldMessages = map[string]string{
	"Email":           MsgEmail,
	"Password":        MsgPassword,
	"Phone":           MsgPhone,
	"Code":            MsgOTP,
	"Name":            MsgName,
	"Gender":          MsgGender,
	"PreferredGender": MsgPreferred,
}

var fieldNames = map[string]string{
	"Email":           "email",
	"Password":        "password",
	"Phone":           "phone",
	"Code":            "otp",
	"Name":            "name",
	"Gender":          "gender",
	"PreferredGender": "preferredGender",
}

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("displayname", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= minNameRunes
	})
	return &Validator{v: v}
}

func (v *Validator) Credentials(email, password string) FieldErrors {
	return v.check(Credentials{Email: strings.TrimSpace(email), Password: password})
}

func (v *Validator) Phone(phone string) FieldErrors {
	return v.check(PhoneLogin{Phone: strings.TrimSpace(phone)})
}

// OTP only checks the code is present; the auth service owns its format.
func (v *Validator) OTP(phone, code string) FieldErrors {
	return v.check(OTPVerify{Phone: strings.TrimSpace(phone), Code: strings.TrimSpace(code)})
}

func (v *Validator) Profile(p session.Profile) FieldErrors {
	return v.check(ProfileForm{Name: p.Name, Gender: p.Gender, PreferredGender: p.PreferredGender})
}

func Style(s session.Style) FieldErrors {
	if _, ok := session.ParseStyle(string(s)); !ok {
		return FieldErrors{"style": MsgStyle}
	}
	return nil
}

func (v *Validator) check(form any) FieldErrors {
	err := v.v.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"form": err.Error()}
	}
	out := FieldErrors{}
	for _, fe := range verrs {
		name, ok := fieldNames[fe.Field()]
		if !ok {
			name = fe.Field()
		}
		if _, seen := out[name]; seen {
			continue
		}
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = MsgRequired
		}
		out[name] = msg
	}
	return out
}
