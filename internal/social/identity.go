package social

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/arshadbarves/reciperage-net/internal/storage"
)

// codeLetters excludes I and O, which read like digits.
const codeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeRetries = 10

// generateCode is swapped in tests to force collisions.
var generateCode = GenerateFriendCode

// GenerateFriendCode returns a random code of three letters and five
// digits, like "KQX82934".
func GenerateFriendCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeLetters))))
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(codeLetters[n.Int64()])
	}
	for i := 0; i < 5; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(byte('0') + byte(n.Int64()))
	}
	return b.String(), nil
}

// ValidFriendCode reports whether a string has the friend code shape.
// Checked before any lookup so typos fail fast.
func ValidFriendCode(code string) bool {
	if len(code) != 8 {
		return false
	}
	for i := 0; i < 3; i++ {
		if !strings.ContainsRune(codeLetters, rune(code[i])) {
			return false
		}
	}
	for i := 3; i < 8; i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// EnsureFriendCode returns the stored friend code for the local profile,
// generating and persisting one on first run. Generation retries on
// collision a bounded number of times.
func EnsureFriendCode(db *storage.DB, selfID, displayName string) (string, error) {
	profile, ok, err := db.LoadProfile()
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	if ok && profile.FriendCode != "" {
		return profile.FriendCode, nil
	}

	for i := 0; i < codeRetries; i++ {
		candidate, err := generateCode()
		if err != nil {
			return "", err
		}
		taken, err := db.CodeExists(candidate)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if taken {
			continue
		}
		if err := db.SaveProfile(storage.ProfileRow{
			PeerID:      selfID,
			DisplayName: displayName,
			FriendCode:  candidate,
		}); err != nil {
			return "", fmt.Errorf("save profile: %w", err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("could not generate unique friend code after %d attempts", codeRetries)
}
