package authapi

import (
	"encoding/json"
	"regexp"
	"unicode/utf8"
)

const (
	msgMobileFormat  = "Mobile number must be a 10-digit number."
	msgFullNameShort = "Full name must be at least 2 characters long."
	msgRequired      = "Required"
	minFullNameRunes = 2
)

var mobilePattern = regexp.MustCompile(`^\d{10}$`)

// FieldErrors maps a body field to its validation messages.
type FieldErrors map[string][]string

func (fe FieldErrors) add(field, msg string) { fe[field] = append(fe[field], msg) }

// stringField reads a required string field from a decoded JSON object.
// ok is false when the field is absent or not a string; the reason is
// recorded in fe.
func stringField(body map[string]json.RawMessage, field string, fe FieldErrors) (string, bool) {
	raw, present := body[field]
	if !present {
		fe.add(field, msgRequired)
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		fe.add(field, "Expected string, received "+jsonKind(raw))
		return "", false
	}
	return s, true
}

func jsonKind(raw json.RawMessage) string {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return "object"
		case '[':
			return "array"
		case '"':
			return "string"
		case 't', 'f':
			return "boolean"
		case 'n':
			return "null"
		default:
			return "number"
		}
	}
	return "undefined"
}

func validateMobile(body map[string]json.RawMessage, fe FieldErrors) string {
	m, ok := stringField(body, "mobileNumber", fe)
	if ok && !mobilePattern.MatchString(m) {
		fe.add("mobileNumber", msgMobileFormat)
	}
	return m
}

type loginInput struct {
	MobileNumber string
}

func validateLogin(body map[string]json.RawMessage) (loginInput, FieldErrors) {
	fe := FieldErrors{}
	in := loginInput{MobileNumber: validateMobile(body, fe)}
	return in, fe
}

type signupInput struct {
	FullName     string
	MobileNumber string
}

func validateSignup(body map[string]json.RawMessage) (signupInput, FieldErrors) {
	fe := FieldErrors{}
	var in signupInput
	if name, ok := stringField(body, "fullName", fe); ok {
		if utf8.RuneCountInString(name) < minFullNameRunes {
			fe.add("fullName", msgFullNameShort)
		}
		in.FullName = name
	}
	in.MobileNumber = validateMobile(body, fe)
	return in, fe
}
