package keeper

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
)

// generateDigest implements ZooKeeper's `digest` ACL scheme: a credential
// presented as "user:password" is stored/compared as
// "user:base64(sha1(user:password))" (grounded on KeeperUtils.cpp's
// generateDigest/getSHA1/base64Encode).
func generateDigest(userAndPassword string) (string, error) {
	user, _, ok := strings.Cut(userAndPassword, ":")
	if !ok {
		return "", fmt.Errorf("keeper: malformed digest credential")
	}
	sum := sha1.Sum([]byte(userAndPassword))
	return user + ":" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// checkSuperdigest validates the `super:base64string` form used for the
// operator-configured super user bypass (KeeperUtils.cpp's
// checkAndGetSuperdigest). An empty string means no super user is
// configured.
func checkSuperdigest(userAndDigest string) (string, error) {
	if userAndDigest == "" {
		return "", nil
	}
	parts := strings.Split(userAndDigest, ":")
	if len(parts) != 2 || parts[0] != "super" {
		return "", fmt.Errorf("keeper: super_digest must be 'super:base64string'")
	}
	return userAndDigest, nil
}

// isSuperCredential reports whether digest (already in
// "user:base64(sha1(...))" form) equals the configured super_digest.
func isSuperCredential(superDigest, digest string) bool {
	return superDigest != "" && digest == superDigest
}
