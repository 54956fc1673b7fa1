package push

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/famlink/messaging/internal/logger"
)

// VAPIDKeys is the Web Push key pair.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

const defaultVAPIDKeysPath = "config/vapid.json"

// Valid checks the pair is a plausible P-256 VAPID pair: the public key
// must decode to an uncompressed 65-byte point and the private key to a
// 32-byte scalar. A pair with the two swapped fails both checks, so a
// corrupted key file is regenerated instead of served to clients.
func (k *VAPIDKeys) Valid() bool {
	pub, err := base64.RawURLEncoding.DecodeString(k.PublicKey)
	if err != nil || len(pub) != 65 || pub[0] != 4 {
		return false
	}
	priv, err := base64.RawURLEncoding.DecodeString(k.PrivateKey)
	return err == nil && len(priv) == 32
}

// EnsureVAPIDKeys loads the key pair from a file, generating and saving a
// fresh pair on first run. The path comes from the argument, then the
// VAPID_KEYS_FILE env var, then config/vapid.json relative to cwd.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	if path == "" {
		path = os.Getenv("VAPID_KEYS_FILE")
	}
	if path == "" {
		path = defaultVAPIDKeysPath
	}
	keys, err := loadVAPIDKeys(path)
	if err == nil && keys.Valid() {
		return keys, nil
	}
	if err == nil && keys.PublicKey != "" {
		logger.Errorf("push: VAPID keys in %s are malformed, regenerating (old subscriptions will stop working)", path)
	}
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, err
	}
	keys = &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := saveVAPIDKeys(path, keys); err != nil {
		logger.Errorf("push: could not save VAPID keys to %s: %v (generated keys are used for this run)", path, err)
		return keys, nil
	}
	logger.Infof("push: VAPID keys generated and saved to %s", path)
	return keys, nil
}

func loadVAPIDKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

func saveVAPIDKeys(path string, keys *VAPIDKeys) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
