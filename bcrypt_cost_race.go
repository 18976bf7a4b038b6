//go:build race

package trust

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds are slow enough that cost 12 trips test timeouts
	return bcrypt.DefaultCost
}
