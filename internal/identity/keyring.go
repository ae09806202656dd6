package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/box"
	"gopkg.in/yaml.v3"
)

// Keyring holds the local identity's private key material: an ed25519
// signing keypair and a curve25519 encryption keypair. The keyring never
// leaves the process; only the public halves are published to the registry.
type Keyring struct {
	URI        string
	SigningKey ed25519.PrivateKey
	BoxPublic  *[32]byte
	BoxPrivate *[32]byte
}

// keyringFile is the on-disk YAML form. Private keys are stored base64,
// file mode 0600.
type keyringFile struct {
	URI        string `yaml:"uri"`
	SigningKey string `yaml:"signing_key"`
	BoxPublic  string `yaml:"box_public"`
	BoxPrivate string `yaml:"box_private"`
}

// GenerateKeyring creates fresh signing and encryption keypairs for uri.
func GenerateKeyring(uri string) (*Keyring, error) {
	_, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate box key: %w", err)
	}
	return &Keyring{
		URI:        uri,
		SigningKey: signPriv,
		BoxPublic:  boxPub,
		BoxPrivate: boxPriv,
	}, nil
}

// SigningPublic returns the public half of the signing key.
func (k *Keyring) SigningPublic() ed25519.PublicKey {
	return k.SigningKey.Public().(ed25519.PublicKey)
}

// Save writes the keyring to path with owner-only permissions.
func (k *Keyring) Save(path string) error {
	f := keyringFile{
		URI:        k.URI,
		SigningKey: base64.StdEncoding.EncodeToString(k.SigningKey),
		BoxPublic:  base64.StdEncoding.EncodeToString(k.BoxPublic[:]),
		BoxPrivate: base64.StdEncoding.EncodeToString(k.BoxPrivate[:]),
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal keyring: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKeyring reads a keyring written by Save.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	var f keyringFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keyring: %w", err)
	}

	signRaw, err := base64.StdEncoding.DecodeString(f.SigningKey)
	if err != nil || len(signRaw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("malformed signing key in %s", path)
	}
	pubRaw, err := base64.StdEncoding.DecodeString(f.BoxPublic)
	if err != nil || len(pubRaw) != boxKeySize {
		return nil, fmt.Errorf("malformed box public key in %s", path)
	}
	privRaw, err := base64.StdEncoding.DecodeString(f.BoxPrivate)
	if err != nil || len(privRaw) != boxKeySize {
		return nil, fmt.Errorf("malformed box private key in %s", path)
	}

	k := &Keyring{URI: f.URI, SigningKey: ed25519.PrivateKey(signRaw)}
	k.BoxPublic = new([32]byte)
	k.BoxPrivate = new([32]byte)
	copy(k.BoxPublic[:], pubRaw)
	copy(k.BoxPrivate[:], privRaw)
	return k, nil
}
