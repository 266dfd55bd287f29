package userdb

import "unicode/utf8"

// Field bounds in bytes.
const (
	NameMaxLen   = 50
	SecretMaxLen = 50
	MailMaxLen   = 50
)

// User is one account row as delivered by ListUsers. Fields never exceed their bounds.
type User struct {
	Name   string
	Secret []byte
	Mail   string
}

// NewUser builds a record, truncating every field to its bound.
// Text fields are cut on a rune boundary; the secret is opaque and cut by bytes.
func NewUser(name string, secret []byte, mail string) *User {
	return &User{
		Name:   truncate(name, NameMaxLen),
		Secret: append([]byte(nil), secret[:min(len(secret), SecretMaxLen)]...),
		Mail:   truncate(mail, MailMaxLen),
	}
}

// Clone returns a copy that shares no storage with u.
func (u *User) Clone() *User {
	return &User{
		Name:   u.Name,
		Secret: append([]byte(nil), u.Secret...),
		Mail:   u.Mail,
	}
}

// Free wipes the secret and clears the record.
func (u *User) Free() {
	clear(u.Secret)
	u.Name, u.Secret, u.Mail = "", nil, ""
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
