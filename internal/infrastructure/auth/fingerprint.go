package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
)

const fingerprintFallbackSeed = "kiro-gateway-default-machine"

// MachineFingerprint derives a stable opaque id for this host. It is used
// only as a suffix in outbound user-agent strings so the upstream sees a
// consistent client identity across restarts. Any OS error falls back to a
// fixed seed rather than failing.
func MachineFingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		return hashFingerprint(fingerprintFallbackSeed)
	}
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return hashFingerprint(fmt.Sprintf("%s-%s-kiro-gateway", hostname, username))
}

func hashFingerprint(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
