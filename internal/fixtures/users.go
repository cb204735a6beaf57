// Package fixtures provides the synthetic data the harness feeds to a
// target: mock users, signed bearer tokens, compliance record sets, and the
// localized string tables shared by the mock server and by assertions.
//
// Everything here is deterministic. Two processes that ask for UserN(3) get
// the same user, which is what lets a recorded transcript be compared
// against a replayed one.
package fixtures

import "fmt"

// User is a synthetic platform account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"` // "member" or "admin"
	Locale      string `json:"locale"`
}

// User roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

var (
	firstNames = []string{"Ana", "Bo", "Chidi", "Dara", "Eli", "Fatima", "Goran", "Hana", "Idris", "June"}
	lastNames  = []string{"Moreno", "Lindqvist", "Okafor", "Novak", "Sato", "Haddad", "Petrov", "Kim", "Diallo", "Roy"}
	locales    = []string{"en", "es", "de", "ja"}
)

// UserN returns the i-th synthetic user. Every seventh user is an admin so
// fixtures cover both roles without callers having to ask.
func UserN(i int) User {
	if i < 0 {
		i = -i
	}
	first := firstNames[i%len(firstNames)]
	last := lastNames[(i/len(firstNames))%len(lastNames)]
	role := RoleMember
	if i%7 == 0 {
		role = RoleAdmin
	}
	return User{
		ID:          fmt.Sprintf("user-%04d", i),
		Email:       fmt.Sprintf("%s.%s.%d@example.test", lower(first), lower(last), i),
		DisplayName: first + " " + last,
		Role:        role,
		Locale:      locales[i%len(locales)],
	}
}

// DefaultUser is the account most tests run as.
func DefaultUser() User { return UserN(1) }

// AdminUser is a fixture with the admin role.
func AdminUser() User { return UserN(0) }

// Users returns the first n synthetic users.
func Users(n int) []User {
	out := make([]User, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, UserN(i))
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
