package auth

import "golang.org/x/crypto/bcrypt"

// HashKey hashes an operator key with the given bcrypt cost. Used to produce
// AUTH_OPERATOR_KEY_HASH values.
func HashKey(key string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CompareKey verifies an operator key against its hashed value.
func CompareKey(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
